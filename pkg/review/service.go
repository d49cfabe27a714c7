// Package review binds one review session together: the row source, the viewer, the
// in-memory state and the reconciler.
package review

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harrisonrobin/reverify/pkg/classify"
	"github.com/harrisonrobin/reverify/pkg/metrics"
	"github.com/harrisonrobin/reverify/pkg/model"
	"github.com/harrisonrobin/reverify/pkg/reconcile"
	"github.com/harrisonrobin/reverify/pkg/sheet"
	"github.com/harrisonrobin/reverify/pkg/view"
)

// Source yields the raw sheet.
type Source interface {
	FetchRows(ctx context.Context) (*sheet.Table, error)
}

// FetchError is a failed refresh. The previously loaded data stays in place.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return "failed to load task data: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to the reviewer for the failure.
func (e *FetchError) UserMessage() string {
	return "Failed to load task data: " + e.Err.Error()
}

// Status describes the last refresh.
type Status struct {
	Loading     bool      `json:"loading"`
	Loaded      bool      `json:"loaded"`
	Error       string    `json:"error,omitempty"`
	RefreshedAt time.Time `json:"refreshedAt,omitzero"`
	Excluded    int       `json:"excluded"`
	Skipped     int       `json:"skipped"`
}

type Options struct {
	Viewer     classify.Viewer
	Location   *time.Location
	Now        func() time.Time
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	Reconciler *reconcile.Reconciler
}

type Service struct {
	source Source
	viewer classify.Viewer
	loc    *time.Location
	now    func() time.Time
	log    zerolog.Logger
	m      *metrics.Metrics

	state *view.State
	rec   *reconcile.Reconciler

	mu     sync.Mutex
	status Status
}

// New creates a session over source. A nil opts.Reconciler is built from writer with the
// default policy.
func New(source Source, writer reconcile.Writer, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if opts.Reconciler == nil {
		opts.Reconciler = reconcile.New(writer, reconcile.Options{
			Location: opts.Location,
			Now:      opts.Now,
			Logger:   opts.Logger,
			Metrics:  opts.Metrics,
		})
	}

	return &Service{
		source: source,
		viewer: opts.Viewer,
		loc:    opts.Location,
		now:    opts.Now,
		log:    opts.Logger.With().Str("component", "review").Logger(),
		m:      opts.Metrics,
		state:  view.New(opts.Now),
		rec:    opts.Reconciler,
	}
}

// Refresh fetches the sheet, classifies it and replaces the loaded collections.
// On failure the previous collections are kept and a *FetchError is returned.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.status.Loading = true
	s.mu.Unlock()

	start := time.Now()
	table, err := s.source.FetchRows(ctx)
	s.m.FetchDuration.Observe(time.Since(start).Seconds())
	s.m.Fetches.WithLabelValues(strconv.FormatBool(err == nil)).Inc()

	if err != nil {
		s.log.Error().Err(err).Msg("fetch failed")
		fe := &FetchError{Err: err}
		s.mu.Lock()
		s.status.Loading = false
		s.status.Error = fe.UserMessage()
		s.mu.Unlock()
		return fe
	}

	if table.NarrowHeader(model.NumColumns) {
		s.log.Warn().Int("width", len(table.Header.Cells)).Int("expected", model.NumColumns).
			Msg("header is narrower than the column schema, missing cells read as empty")
	}
	for _, sk := range table.Skipped {
		s.log.Warn().Int("position", sk.Position).Str("reason", sk.Reason).Msg("row skipped")
	}
	s.m.RowsSkipped.Add(float64(len(table.Skipped)))

	res := classify.ClassifyTable(table, s.viewer, classify.Options{Location: s.loc})
	s.m.Classified.WithLabelValues(model.Pending.String()).Add(float64(len(res.Pending)))
	s.m.Classified.WithLabelValues(model.History.String()).Add(float64(len(res.History)))
	s.m.Classified.WithLabelValues(model.Excluded.String()).Add(float64(res.Excluded))

	s.state.Load(res.Pending, res.History)

	s.log.Info().
		Int("pending", len(res.Pending)).
		Int("history", len(res.History)).
		Int("excluded", res.Excluded).
		Int("skipped", len(table.Skipped)).
		Msg("sheet loaded")

	s.mu.Lock()
	s.status = Status{
		Loaded:      true,
		RefreshedAt: s.now(),
		Excluded:    res.Excluded,
		Skipped:     len(table.Skipped),
	}
	s.mu.Unlock()
	return nil
}

// Submit commits the current selection. See reconcile.Reconciler.Submit.
func (s *Service) Submit(ctx context.Context) (*reconcile.Submission, error) {
	sub, err := s.rec.Submit(ctx, s.state)
	if err != nil {
		s.log.Debug().Err(err).Msg("submit rejected")
		return nil, err
	}
	return sub, nil
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service) Viewer() classify.Viewer {
	return s.viewer
}

func (s *Service) State() *view.State {
	return s.state
}

func (s *Service) Busy() bool {
	return s.rec.Busy()
}

func (s *Service) Pending(search string) []model.Task {
	return s.state.Pending(search)
}

func (s *Service) History(search string) []model.Task {
	return s.state.History(search)
}

func (s *Service) Select(id string, checked bool) error {
	return s.state.Select(id, checked)
}

func (s *Service) SelectAll(search string, checked bool) {
	s.state.SelectAll(search, checked)
}

func (s *Service) SetRemark(id, remark string) error {
	if err := s.state.SetRemark(id, remark); err != nil {
		return fmt.Errorf("set remark on %s: %w", id, err)
	}
	return nil
}

func (s *Service) Notices() []view.Notice {
	return s.state.Notices()
}

// Close waits for in-flight background writes.
func (s *Service) Close() {
	s.rec.Close()
}
