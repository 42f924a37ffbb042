package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/hmis/tracker/internal/config"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/importer/job"
	"github.com/hmis/tracker/internal/platform/auth"
	"github.com/hmis/tracker/internal/platform/db"
)

type importFlags struct {
	file                  string
	strategy              string
	user                  string
	program               string
	skipPatternValidation bool
	ignoreEmptyCollection bool
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON payload file and print the summaries",
	}
	cmd.AddCommand(importSubCmd("tei", "Import tracked entity instances", job.TypeTrackedEntityImport))
	cmd.AddCommand(importSubCmd("enrollments", "Import enrollments", job.TypeEnrollmentImport))
	return cmd
}

func importSubCmd(use, short string, jobType job.Type) *cobra.Command {
	var f importFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd.OutOrStdout(), jobType, f)
		},
	}
	cmd.Flags().StringVar(&f.file, "file", "", "payload file (JSON envelope)")
	cmd.Flags().StringVar(&f.strategy, "strategy", "CREATE_AND_UPDATE", "CREATE, UPDATE, CREATE_AND_UPDATE, DELETE or SYNC")
	cmd.Flags().StringVar(&f.user, "user", "", "username recorded as storedBy; empty imports without access checks")
	cmd.Flags().StringVar(&f.program, "program", "", "program whose attributes are pruned on update")
	cmd.Flags().BoolVar(&f.skipPatternValidation, "skip-pattern-validation", false, "skip text pattern checks of generated attributes")
	cmd.Flags().BoolVar(&f.ignoreEmptyCollection, "ignore-empty-collection", false, "leave stored children alone when a collection is empty")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runImport(ctx context.Context, out io.Writer, jobType job.Type, f importFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	opts, err := f.options()
	if err != nil {
		return err
	}
	payload, err := os.Open(f.file)
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer payload.Close()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	reserved, closeReserved, err := newReservedValues(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeReserved()
	a := newApp(pool, reserved, cfg, logger)

	var fn job.Func
	switch jobType {
	case job.TypeEnrollmentImport:
		var body importer.Enrollments
		if err := decodePayload(payload, &body); err != nil {
			return err
		}
		fn = func(ctx context.Context) (*importer.ImportSummaries, error) {
			return a.enrollments.ImportEnrollments(ctx, body.Enrollments, opts)
		}
	default:
		var body importer.TrackedEntityInstances
		if err := decodePayload(payload, &body); err != nil {
			return err
		}
		fn = func(ctx context.Context) (*importer.ImportSummaries, error) {
			return a.trackedEntities.ImportTrackedEntityInstances(ctx, body.TrackedEntityInstances, opts)
		}
	}

	summaries := a.runner.Run(ctx, "", jobType, fn)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summaries); err != nil {
		return err
	}
	if summaries.Status == importer.StatusError {
		return fmt.Errorf("import finished with status %s", summaries.Status)
	}
	return nil
}

var envelopeValidator = validator.New(validator.WithRequiredStructEnabled())

// decodePayload decodes a JSON envelope and validates it like the HTTP
// handlers do.
func decodePayload(r io.Reader, dst any) error {
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := envelopeValidator.Struct(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (f importFlags) options() (*importer.ImportOptions, error) {
	strategy, err := importer.ParseImportStrategy(f.strategy)
	if err != nil {
		return nil, err
	}
	opts := importer.DefaultImportOptions().WithStrategy(strategy)
	opts.Program = f.program
	opts.SkipPatternValidation = f.skipPatternValidation
	opts.IgnoreEmptyCollection = f.ignoreEmptyCollection
	if f.user != "" {
		opts.User = &auth.User{UID: f.user, Username: f.user, Authorities: []string{auth.AuthorityAll}}
	}
	return opts, nil
}
