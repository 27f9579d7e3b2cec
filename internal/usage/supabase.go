package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// DefaultSupabaseTable is the table written by the Supabase recorder.
const DefaultSupabaseTable = "voice_usage"

// Supabase writes records through the Supabase REST (PostgREST) API.
type Supabase struct {
	client *supabase.Client
	table  string
}

var _ Recorder = (*Supabase)(nil)

// NewSupabase creates a recorder for the project at url using apiKey
// (a service-role key, since rows are written on behalf of users). An empty
// table selects DefaultSupabaseTable.
func NewSupabase(url, apiKey, table string) (*Supabase, error) {
	if url == "" {
		return nil, errors.New("usage supabase: url is required")
	}
	if apiKey == "" {
		return nil, errors.New("usage supabase: api key is required")
	}
	if table == "" {
		table = DefaultSupabaseTable
	}
	client, err := supabase.NewClient(url, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("usage supabase: create client: %w", err)
	}
	return &Supabase{client: client, table: table}, nil
}

// Record implements Recorder. The postgrest client does not take a context;
// ctx is checked before the call only.
func (s *Supabase) Record(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r = normalize(r)
	_, _, err := s.client.From(s.table).
		Insert(r, false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("usage supabase: insert: %w", err)
	}
	return nil
}

// Close implements Recorder.
func (s *Supabase) Close() error { return nil }
