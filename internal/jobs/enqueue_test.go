package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/Togather-Foundation/catalog/internal/normalize"
)

type fakeInserter struct {
	args river.JobArgs
	opts *river.InsertOpts
	err  error
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	f.args = args
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: 9, Kind: args.Kind()}}, nil
}

func TestEnqueuer_EnqueueBatch(t *testing.T) {
	ins := &fakeInserter{}
	records := []normalize.RawEvent{{"title": "Late Set"}}

	if err := NewEnqueuer(ins, 5).EnqueueBatch(context.Background(), "bluenote", records); err != nil {
		t.Fatalf("EnqueueBatch() error = %v", err)
	}
	args, ok := ins.args.(BatchIngestionArgs)
	if !ok {
		t.Fatalf("inserted %T, want BatchIngestionArgs", ins.args)
	}
	if args.Site != "bluenote" || len(args.Events) != 1 {
		t.Errorf("unexpected args: %+v", args)
	}
	if ins.opts == nil || ins.opts.MaxAttempts != 5 {
		t.Errorf("insert opts = %+v, want MaxAttempts 5", ins.opts)
	}
}

func TestEnqueuer_InsertError(t *testing.T) {
	ins := &fakeInserter{err: errors.New("pool closed")}
	err := NewEnqueuer(ins, 0).EnqueueBatch(context.Background(), "bluenote", nil)
	if err == nil || !errors.Is(err, ins.err) {
		t.Fatalf("EnqueueBatch() error = %v, want wrapped insert error", err)
	}
}
