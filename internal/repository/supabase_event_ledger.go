package repository

import (
	"context"
	"fmt"

	"pdf-workbench/internal/domain"

	"github.com/supabase-community/supabase-go"
)

// SupabaseEventLedger appends artifact lifecycle events to a Supabase table.
type SupabaseEventLedger struct {
	client *supabase.Client
	table  string
	logger domain.Logger
}

// NewEventLedger returns a Supabase-backed ledger when URL and key are
// configured, and a no-op ledger otherwise.
func NewEventLedger(config domain.Config, logger domain.Logger) (domain.EventLedger, error) {
	supabaseURL := config.GetSupabaseURL()
	supabaseKey := config.GetSupabaseKey()

	if supabaseURL == "" || supabaseKey == "" {
		logger.Info("Supabase not configured, artifact events are not recorded")
		return NoopEventLedger{}, nil
	}

	client, err := supabase.NewClient(supabaseURL, supabaseKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	table := config.GetSupabaseEventsTable()
	logger.Info("Supabase event ledger initialized", "url", supabaseURL, "table", table)
	return &SupabaseEventLedger{client: client, table: table, logger: logger}, nil
}

// Record inserts one event row.
func (l *SupabaseEventLedger) Record(ctx context.Context, event domain.ArtifactEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, _, err := l.client.From(l.table).Insert(event, false, "", "", "").Execute()
	if err != nil {
		return fmt.Errorf("failed to record %s event for artifact %s: %w", event.Type, event.ArtifactID, err)
	}

	l.logger.Debug("Artifact event recorded", "event", event.Type, "artifact_id", event.ArtifactID)
	return nil
}

// NoopEventLedger discards events.
type NoopEventLedger struct{}

func (NoopEventLedger) Record(context.Context, domain.ArtifactEvent) error { return nil }
