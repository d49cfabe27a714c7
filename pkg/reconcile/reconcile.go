// Package reconcile commits a reviewer's selection: it moves the selected tasks to
// history right away and writes the verification back to the sheet in the background.
// The local move is never undone, whatever the write returns.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/harrisonrobin/reverify/pkg/metrics"
	"github.com/harrisonrobin/reverify/pkg/model"
	"github.com/harrisonrobin/reverify/pkg/sheet"
	"github.com/harrisonrobin/reverify/pkg/util"
	"github.com/harrisonrobin/reverify/pkg/view"
)

const (
	DefaultNoticeTTL = 5 * time.Second

	warningMessage = "Warning: There was an error with background submission, but your changes are saved locally."
)

// Writer records verifications in the sheet.
type Writer interface {
	WriteVerifications(ctx context.Context, items []sheet.WriteItem) error
}

// Policy controls retries of the background write. MaxAttempts of 1 means a single try.
// Rejections reported by the sheet are never retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     1,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Options configure a Reconciler. Zero fields take defaults.
type Options struct {
	Policy    Policy
	NoticeTTL time.Duration
	Location  *time.Location
	Now       func() time.Time
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Outcome is the result of a background write.
type Outcome struct {
	Items    []sheet.WriteItem
	Attempts int
	Err      error // *RemoteWriteError, nil on success
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

// Submission is a committed batch whose background write may still be running.
type Submission struct {
	Date     string
	Promoted []model.Task
	Items    []sheet.WriteItem

	done    chan struct{}
	outcome Outcome
}

// Done is closed once the background write has finished.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the background write finishes or ctx is done.
func (s *Submission) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Reconciler runs at most one submission at a time.
type Reconciler struct {
	writer Writer
	opts   Options
	log    zerolog.Logger

	busy atomic.Bool
	wg   sync.WaitGroup
}

func New(w Writer, opts Options) *Reconciler {
	def := DefaultPolicy()
	if opts.Policy.MaxAttempts < 1 {
		opts.Policy.MaxAttempts = def.MaxAttempts
	}
	if opts.Policy.InitialInterval <= 0 {
		opts.Policy.InitialInterval = def.InitialInterval
	}
	if opts.Policy.MaxInterval <= 0 {
		opts.Policy.MaxInterval = def.MaxInterval
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = DefaultNoticeTTL
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	return &Reconciler{
		writer: w,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "reconcile").Logger(),
	}
}

// Busy reports whether a submission or its background write is in flight.
func (r *Reconciler) Busy() bool {
	return r.busy.Load()
}

// Submit validates the selection held by st, promotes it to history and starts the
// background write. Validation and promotion happen under one lock of st, so edits
// racing with Submit are either all included or all left for the next submission.
// Validation errors leave st untouched.
func (r *Reconciler) Submit(ctx context.Context, st *view.State) (*Submission, error) {
	if !r.busy.CompareAndSwap(false, true) {
		r.opts.Metrics.Submissions.WithLabelValues("in_progress").Inc()
		return nil, ErrSubmitInProgress
	}

	date := util.FormatDate(r.opts.Now().In(r.opts.Location))
	promoted, err := st.Commit(date, validate)
	if err == nil && len(promoted) == 0 {
		err = ErrEmptySelection
	}
	if err != nil {
		r.busy.Store(false)
		r.opts.Metrics.Submissions.WithLabelValues("invalid").Inc()
		return nil, err
	}

	items := make([]sheet.WriteItem, len(promoted))
	for i, t := range promoted {
		items[i] = sheet.WriteItem{
			TaskID:           sheet.TaskRef(t.TaskID, t.NumericID),
			RowIndex:         t.RowIndex,
			VerificationDate: date,
			Remarks:          t.Get(model.ColRemarks),
		}
	}

	st.Notify(view.LevelSuccess,
		fmt.Sprintf("Successfully processed %d re-verification records! Tasks moved to history.", len(promoted)),
		r.opts.NoticeTTL)
	r.opts.Metrics.Submissions.WithLabelValues("accepted").Inc()
	r.log.Info().Int("items", len(items)).Str("date", date).Msg("submission committed locally")

	sub := &Submission{
		Date:     date,
		Promoted: promoted,
		Items:    items,
		done:     make(chan struct{}),
	}

	r.wg.Add(1)
	go r.write(context.WithoutCancel(ctx), st, sub)

	return sub, nil
}

func validate(ids []string, remarks map[string]string) error {
	if len(ids) == 0 {
		return ErrEmptySelection
	}
	var missing []string
	for _, id := range ids {
		if strings.TrimSpace(remarks[id]) == "" {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &MissingRemarksError{IDs: missing}
	}
	return nil
}

func (r *Reconciler) write(ctx context.Context, st *view.State, sub *Submission) {
	defer r.wg.Done()

	start := time.Now()
	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		err := r.writer.WriteVerifications(ctx, sub.Items)
		if errors.Is(err, sheet.ErrWriteRejected) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.Policy.InitialInterval
	b.MaxInterval = r.opts.Policy.MaxInterval

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.opts.Policy.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Warn().Err(err).Dur("retry_in", next).Msg("background write failed, retrying")
		}),
	)

	r.opts.Metrics.WriteAttempts.Observe(float64(attempts))
	r.opts.Metrics.WriteDuration.Observe(time.Since(start).Seconds())
	r.opts.Metrics.RemoteWrites.WithLabelValues(strconv.FormatBool(err == nil)).Inc()

	outcome := Outcome{Items: sub.Items, Attempts: attempts}
	if err != nil {
		outcome.Err = &RemoteWriteError{Attempts: attempts, Err: err}
		r.log.Error().Err(err).Int("attempts", attempts).Int("items", len(sub.Items)).Msg("background submission failed")
		st.Notify(view.LevelWarning, warningMessage, 0)
	} else {
		r.log.Info().Int("attempts", attempts).Int("items", len(sub.Items)).Msg("background submission stored")
	}

	sub.outcome = outcome
	r.busy.Store(false)
	close(sub.done)
}

// Close waits for in-flight background writes.
func (r *Reconciler) Close() {
	r.wg.Wait()
}
