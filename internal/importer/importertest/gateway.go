// Package importertest provides in-memory stores for importer tests.
package importertest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
)

type avKey struct{ entity, attribute string }

type state struct {
	entities      map[string]*tracker.TrackedEntity
	values        map[avKey]*tracker.AttributeValue
	enrollments   map[string]*tracker.ProgramInstance
	events        map[string]*tracker.Event
	relationships map[string]*tracker.Relationship
	comments      map[string]*tracker.Comment
	ownership     map[string]string
}

func (s *state) clone() *state {
	cp := &state{
		entities:      map[string]*tracker.TrackedEntity{},
		values:        map[avKey]*tracker.AttributeValue{},
		enrollments:   map[string]*tracker.ProgramInstance{},
		events:        map[string]*tracker.Event{},
		relationships: map[string]*tracker.Relationship{},
		comments:      map[string]*tracker.Comment{},
		ownership:     maps.Clone(s.ownership),
	}
	for k, v := range s.entities {
		c := *v
		cp.entities[k] = &c
	}
	for k, v := range s.values {
		c := *v
		cp.values[k] = &c
	}
	for k, v := range s.enrollments {
		c := *v
		cp.enrollments[k] = &c
	}
	for k, v := range s.events {
		c := *v
		cp.events[k] = &c
	}
	for k, v := range s.relationships {
		c := *v
		cp.relationships[k] = &c
	}
	for k, v := range s.comments {
		c := *v
		cp.comments[k] = &c
	}
	return cp
}

// Gateway is an in-memory tracker.Gateway. InTx snapshots the state and
// restores it when fn fails. Entities resolve their org unit path through
// OrgUnitPaths.
type Gateway struct {
	mu sync.Mutex
	st *state

	OrgUnitPaths map[string]string
	// FailOn makes the named method return an error.
	FailOn map[string]error

	Flushes int
}

var _ tracker.Gateway = (*Gateway)(nil)

func NewGateway() *Gateway {
	return &Gateway{
		st: &state{
			entities:      map[string]*tracker.TrackedEntity{},
			values:        map[avKey]*tracker.AttributeValue{},
			enrollments:   map[string]*tracker.ProgramInstance{},
			events:        map[string]*tracker.Event{},
			relationships: map[string]*tracker.Relationship{},
			comments:      map[string]*tracker.Comment{},
			ownership:     map[string]string{},
		},
		OrgUnitPaths: map[string]string{},
		FailOn:       map[string]error{},
	}
}

func (g *Gateway) fail(method string) error {
	if err, ok := g.FailOn[method]; ok {
		return err
	}
	return nil
}

func (g *Gateway) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	snapshot := g.st.clone()
	g.mu.Unlock()

	if err := fn(ctx); err != nil {
		g.mu.Lock()
		g.st = snapshot
		g.mu.Unlock()
		return err
	}
	return nil
}

func (g *Gateway) Flush(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Flushes++
	return nil
}

func (g *Gateway) Existing(_ context.Context, kind tracker.Kind, uids []string, includeDeleted bool) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, uid := range uids {
		deleted, ok := g.deletedFlag(kind, uid)
		if ok && (includeDeleted || !deleted) {
			out = append(out, uid)
		}
	}
	return out, nil
}

func (g *Gateway) deletedFlag(kind tracker.Kind, uid string) (deleted, ok bool) {
	switch kind {
	case tracker.KindTrackedEntity:
		if v, found := g.st.entities[uid]; found {
			return v.Deleted, true
		}
	case tracker.KindEnrollment:
		if v, found := g.st.enrollments[uid]; found {
			return v.Deleted, true
		}
	case tracker.KindEvent:
		if v, found := g.st.events[uid]; found {
			return v.Deleted, true
		}
	case tracker.KindRelationship:
		if v, found := g.st.relationships[uid]; found {
			return v.Deleted, true
		}
	case tracker.KindNote:
		if _, found := g.st.comments[uid]; found {
			return false, true
		}
	}
	return false, false
}

// Tracked entities

func (g *Gateway) GetTrackedEntity(_ context.Context, uid string) (*tracker.TrackedEntity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	te, ok := g.st.entities[uid]
	if !ok || te.Deleted {
		return nil, tracker.ErrNotFound
	}
	cp := *te
	return &cp, nil
}

func (g *Gateway) TrackedEntities(_ context.Context, uids []string) ([]*tracker.TrackedEntity, error) {
	if err := g.fail("TrackedEntities"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*tracker.TrackedEntity
	for _, uid := range uids {
		if te, ok := g.st.entities[uid]; ok && !te.Deleted {
			cp := *te
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (g *Gateway) CreateTrackedEntity(_ context.Context, te *tracker.TrackedEntity) error {
	if err := g.fail("CreateTrackedEntity"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.st.entities[te.UID]; ok {
		return fmt.Errorf("duplicate tracked entity %s", te.UID)
	}
	cp := *te
	if cp.OrgUnitPath == "" {
		cp.OrgUnitPath = g.OrgUnitPaths[cp.OrgUnit]
	}
	g.st.entities[te.UID] = &cp
	return nil
}

func (g *Gateway) UpdateTrackedEntity(_ context.Context, te *tracker.TrackedEntity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.st.entities[te.UID]; !ok {
		return tracker.ErrNotFound
	}
	cp := *te
	cp.OrgUnitPath = g.OrgUnitPaths[cp.OrgUnit]
	g.st.entities[te.UID] = &cp
	return nil
}

func (g *Gateway) DeleteTrackedEntity(_ context.Context, uid string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	te, ok := g.st.entities[uid]
	if !ok {
		return tracker.ErrNotFound
	}
	te.Deleted = true
	return nil
}

// Attribute values

func (g *Gateway) AttributeValues(_ context.Context, entity string) ([]*tracker.AttributeValue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*tracker.AttributeValue
	for k, v := range g.st.values {
		if k.entity == entity {
			cp := *v
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *tracker.AttributeValue) int { return strings.Compare(a.Attribute, b.Attribute) })
	return out, nil
}

func (g *Gateway) AddAttributeValue(_ context.Context, v *tracker.AttributeValue) error {
	if err := g.fail("AddAttributeValue"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	k := avKey{v.Entity, v.Attribute}
	if _, ok := g.st.values[k]; ok {
		return fmt.Errorf("duplicate attribute value %s/%s", v.Entity, v.Attribute)
	}
	cp := *v
	g.st.values[k] = &cp
	return nil
}

func (g *Gateway) UpdateAttributeValue(_ context.Context, v *tracker.AttributeValue) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := avKey{v.Entity, v.Attribute}
	if _, ok := g.st.values[k]; !ok {
		return tracker.ErrNotFound
	}
	cp := *v
	g.st.values[k] = &cp
	return nil
}

func (g *Gateway) DeleteAttributeValue(_ context.Context, entity, attribute string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.st.values, avKey{entity, attribute})
	return nil
}

func (g *Gateway) EntitiesWithAttributeValue(_ context.Context, attribute, value, orgUnitPath string) ([]string, error) {
	if err := g.fail("EntitiesWithAttributeValue"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for k, v := range g.st.values {
		if k.attribute != attribute || !strings.EqualFold(v.Value, value) {
			continue
		}
		te, ok := g.st.entities[k.entity]
		if !ok || te.Deleted {
			continue
		}
		if orgUnitPath != "" && !metadata.PathWithin(te.OrgUnitPath, orgUnitPath) {
			continue
		}
		out = append(out, k.entity)
	}
	slices.Sort(out)
	return out, nil
}

// Enrollments

func (g *Gateway) GetEnrollment(_ context.Context, uid string) (*tracker.ProgramInstance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pi, ok := g.st.enrollments[uid]
	if !ok || pi.Deleted {
		return nil, tracker.ErrNotFound
	}
	cp := *pi
	return &cp, nil
}

func (g *Gateway) EnrollmentsFor(_ context.Context, entity, program string) ([]*tracker.ProgramInstance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*tracker.ProgramInstance
	for _, pi := range g.st.enrollments {
		if pi.Entity == entity && !pi.Deleted && (program == "" || pi.Program == program) {
			cp := *pi
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *tracker.ProgramInstance) int { return strings.Compare(a.UID, b.UID) })
	return out, nil
}

func (g *Gateway) CreateEnrollment(_ context.Context, pi *tracker.ProgramInstance) error {
	if err := g.fail("CreateEnrollment"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.st.enrollments[pi.UID]; ok {
		return fmt.Errorf("duplicate enrollment %s", pi.UID)
	}
	cp := *pi
	g.st.enrollments[pi.UID] = &cp
	return nil
}

func (g *Gateway) UpdateEnrollment(_ context.Context, pi *tracker.ProgramInstance) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.st.enrollments[pi.UID]; !ok {
		return tracker.ErrNotFound
	}
	cp := *pi
	g.st.enrollments[pi.UID] = &cp
	return nil
}

func (g *Gateway) DeleteEnrollment(_ context.Context, uid string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	pi, ok := g.st.enrollments[uid]
	if !ok {
		return tracker.ErrNotFound
	}
	pi.Deleted = true
	return nil
}

func (g *Gateway) AssignOwnership(_ context.Context, entity, program, orgUnit string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.st.ownership[entity+"/"+program] = orgUnit
	return nil
}

func (g *Gateway) CreateComment(_ context.Context, c *tracker.Comment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.st.comments[c.UID]; ok {
		return fmt.Errorf("duplicate note %s", c.UID)
	}
	cp := *c
	g.st.comments[c.UID] = &cp
	return nil
}

// Events

func (g *Gateway) GetEvent(_ context.Context, uid string) (*tracker.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.st.events[uid]
	if !ok || ev.Deleted {
		return nil, tracker.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (g *Gateway) EventsFor(_ context.Context, enrollment string) ([]*tracker.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*tracker.Event
	for _, ev := range g.st.events {
		if ev.Enrollment == enrollment && !ev.Deleted {
			cp := *ev
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *tracker.Event) int { return strings.Compare(a.UID, b.UID) })
	return out, nil
}

func (g *Gateway) CreateEvent(_ context.Context, ev *tracker.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.st.events[ev.UID]; ok {
		return fmt.Errorf("duplicate event %s", ev.UID)
	}
	cp := *ev
	g.st.events[ev.UID] = &cp
	return nil
}

func (g *Gateway) UpdateEvent(_ context.Context, ev *tracker.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.st.events[ev.UID]; !ok {
		return tracker.ErrNotFound
	}
	cp := *ev
	g.st.events[ev.UID] = &cp
	return nil
}

func (g *Gateway) DeleteEvent(_ context.Context, uid string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.st.events[uid]
	if !ok {
		return tracker.ErrNotFound
	}
	ev.Deleted = true
	return nil
}

// Relationships

func (g *Gateway) GetRelationship(_ context.Context, uid string) (*tracker.Relationship, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.st.relationships[uid]
	if !ok || r.Deleted {
		return nil, tracker.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (g *Gateway) RelationshipsFor(_ context.Context, entity string) ([]*tracker.Relationship, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*tracker.Relationship
	for _, r := range g.st.relationships {
		if !r.Deleted && (r.From == entity || r.To == entity) {
			cp := *r
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *tracker.Relationship) int { return strings.Compare(a.UID, b.UID) })
	return out, nil
}

func (g *Gateway) CreateRelationship(_ context.Context, r *tracker.Relationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.st.relationships[r.UID]; ok {
		return fmt.Errorf("duplicate relationship %s", r.UID)
	}
	cp := *r
	g.st.relationships[r.UID] = &cp
	return nil
}

func (g *Gateway) UpdateRelationship(_ context.Context, r *tracker.Relationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.st.relationships[r.UID]; !ok {
		return tracker.ErrNotFound
	}
	cp := *r
	g.st.relationships[r.UID] = &cp
	return nil
}

func (g *Gateway) DeleteRelationship(_ context.Context, uid string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.st.relationships[uid]
	if !ok {
		return tracker.ErrNotFound
	}
	r.Deleted = true
	return nil
}

// Seeding and inspection helpers.

// PutTrackedEntity stores te as is, including its deleted flag.
func (g *Gateway) PutTrackedEntity(te *tracker.TrackedEntity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *te
	if cp.OrgUnitPath == "" {
		cp.OrgUnitPath = g.OrgUnitPaths[cp.OrgUnit]
	}
	if cp.Created.IsZero() {
		cp.Created = time.Now()
	}
	g.st.entities[te.UID] = &cp
}

func (g *Gateway) PutAttributeValue(entity, attribute, value string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.st.values[avKey{entity, attribute}] = &tracker.AttributeValue{Entity: entity, Attribute: attribute, Value: value}
}

func (g *Gateway) PutEnrollment(pi *tracker.ProgramInstance) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *pi
	g.st.enrollments[pi.UID] = &cp
}

func (g *Gateway) PutEvent(ev *tracker.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *ev
	g.st.events[ev.UID] = &cp
}

func (g *Gateway) PutRelationship(r *tracker.Relationship) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *r
	g.st.relationships[r.UID] = &cp
}

// TrackedEntity returns the stored row, deleted or not.
func (g *Gateway) TrackedEntity(uid string) *tracker.TrackedEntity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st.entities[uid]
}

// Enrollment returns the stored row, deleted or not.
func (g *Gateway) Enrollment(uid string) *tracker.ProgramInstance {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st.enrollments[uid]
}

func (g *Gateway) Event(uid string) *tracker.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st.events[uid]
}

func (g *Gateway) Relationship(uid string) *tracker.Relationship {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st.relationships[uid]
}

// Values returns the attribute values of entity keyed by attribute.
func (g *Gateway) Values(entity string) map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := map[string]string{}
	for k, v := range g.st.values {
		if k.entity == entity {
			out[k.attribute] = v.Value
		}
	}
	return out
}

func (g *Gateway) Comments(enrollment string) []*tracker.Comment {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*tracker.Comment
	for _, c := range g.st.comments {
		if c.Enrollment == enrollment {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b *tracker.Comment) int { return strings.Compare(a.UID, b.UID) })
	return out
}

func (g *Gateway) Owner(entity, program string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st.ownership[entity+"/"+program]
}

// Count returns the number of stored rows of kind, deleted ones included.
func (g *Gateway) Count(kind tracker.Kind) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch kind {
	case tracker.KindTrackedEntity:
		return len(g.st.entities)
	case tracker.KindEnrollment:
		return len(g.st.enrollments)
	case tracker.KindEvent:
		return len(g.st.events)
	case tracker.KindRelationship:
		return len(g.st.relationships)
	case tracker.KindNote:
		return len(g.st.comments)
	}
	return 0
}
