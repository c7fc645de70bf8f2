// Command peergrade runs grading operations for one activity against the
// configured store.
//
// Usage:
//
//	peergrade [-config file] <command> [flags]
//
// Commands:
//
//	randomize  -students a,b,c [-teachers x,y]  assign peer reviewers for the scope
//	submit     -timing -rater-type -subject -rater (-score|-filling) [-comment]
//	recompute  -students a,b,c        re-aggregate students
//	fill       -ref id crit=level...  store a rubric filling
//	compare    -attempt -teacher [-history a,b]
//	ledger     -student id            show grade-book pushes and completion
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/ahrav/go-peergrade/infrastructure/gradebook"
	"github.com/ahrav/go-peergrade/infrastructure/middleware"
	"github.com/ahrav/go-peergrade/infrastructure/storage/sqlstore"
	"github.com/ahrav/go-peergrade/internal/application"
	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/logging"
)

var errUsage = errors.New("usage: peergrade [-config file] <randomize|submit|recompute|fill|compare|ledger> [flags]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "peergrade:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	global := flag.NewFlagSet("peergrade", flag.ContinueOnError)
	configFile := global.String("config", "", "path to config.yaml")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return errUsage
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "randomize":
		err = a.randomize(ctx, rest, stdout)
	case "submit":
		err = a.submit(ctx, rest, stdout)
	case "recompute":
		err = a.recompute(ctx, rest, stdout)
	case "fill":
		err = a.fill(ctx, rest)
	case "compare":
		err = a.compare(ctx, rest, stdout)
	case "ledger":
		err = a.ledger(ctx, rest, stdout)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
	if err != nil {
		a.logger.Error("command failed", zap.String("command", cmd), zap.Error(err))
		return err
	}
	return a.flushMetrics()
}

// app holds the wired components for one invocation.
type app struct {
	cfg      *Config
	logger   *zap.Logger
	store    *sqlstore.Store
	engine   *application.Engine
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg *Config) (*app, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return nil, err
	}

	driver, err := sqlstore.ParseDriver(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	store, err := sqlstore.Open(ctx, driver, cfg.Database.DSN, sqlstore.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	loader, err := application.NewActivityLoader()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	activity, err := loader.LoadFromFile(cfg.Activity.Path)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics := middleware.NewPrometheusMetrics(registry)

	book, err := gradebook.New(store, cfg.Gradebook.chain(), metrics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	seed := cfg.Activity.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	engine, err := application.NewEngine(activity, application.EngineDeps{
		Store:      store,
		Gradebook:  book,
		Completion: store,
	},
		application.WithLogger(logger),
		application.WithMetrics(metrics),
		application.WithObserver(middleware.NewOTelObserver(metrics, otel.GetTracerProvider())),
		application.WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Debug("activity loaded",
		zap.String("activity", activity.Name()),
		zap.String("hash", activity.Hash),
		zap.String("driver", string(driver)))

	return &app{cfg: cfg, logger: logger, store: store, engine: engine, registry: registry}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *app) flushMetrics() error {
	if a.cfg.Metrics.Textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.cfg.Metrics.Textfile, a.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func (a *app) randomize(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("randomize", flag.ContinueOnError)
	students := fs.String("students", "", "comma-separated student ids")
	teachers := fs.String("teachers", "", "comma-separated teacher ids, excluded from review")
	if err := fs.Parse(args); err != nil {
		return err
	}
	roster := append(withRole(*teachers, domain.RoleTeacher), withRole(*students, domain.RoleStudent)...)
	state := domain.NewRosterState(a.cfg.Activity.Scope, roster)
	if len(state.Students()) == 0 {
		return errors.New("randomize: -students is required")
	}

	state, err := a.engine.RandomizePeers(ctx, state)
	if err != nil {
		return err
	}
	return writeJSON(stdout, state.Graph())
}

func (a *app) submit(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	timing := fs.String("timing", string(domain.TimingBefore), "before or after")
	raterType := fs.String("rater-type", "", "teacher, self, peer, class or training")
	subject := fs.String("subject", "", "graded student")
	rater := fs.String("rater", "", "grading participant")
	score := fs.Float64("score", 0, "score in [0, 100]")
	comment := fs.String("comment", "", "optional comment")
	filling := fs.String("filling", "", "rubric selections crit=level,...; replaces -score")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sub := domain.Submission{
		Area: domain.GradingArea{
			Timing:    domain.Timing(strings.ToLower(*timing)),
			RaterType: domain.RaterType(strings.ToLower(*raterType)),
		},
		Subject: domain.ParticipantID(*subject),
		Rater:   domain.ParticipantID(*rater),
		Score:   domain.NewScore(*score),
		Comment: *comment,
	}

	var (
		recs []domain.AggregatedGrade
		err  error
	)
	if *filling != "" {
		f, perr := parseFilling(splitList(*filling))
		if perr != nil {
			return fmt.Errorf("submit: %w", perr)
		}
		recs, err = a.engine.SubmitRubricGrade(ctx, sub, f)
	} else {
		recs, err = a.engine.SubmitGrade(ctx, sub)
	}
	if err != nil {
		return err
	}
	return writeJSON(stdout, recs)
}

func (a *app) recompute(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("recompute", flag.ContinueOnError)
	students := fs.String("students", "", "comma-separated student ids")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := participants(*students)
	if len(ids) == 0 {
		return errors.New("recompute: -students is required")
	}

	out, err := a.engine.RecomputeCohort(ctx, ids)
	if err != nil {
		return err
	}
	return writeJSON(stdout, out)
}

func (a *app) fill(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fill", flag.ContinueOnError)
	ref := fs.String("ref", "", "attempt reference")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ref == "" {
		return errors.New("fill: -ref is required")
	}

	filling, err := parseFilling(fs.Args())
	if err != nil {
		return fmt.Errorf("fill: %w", err)
	}
	return a.store.SaveRubricFilling(ctx, *ref, filling)
}

func (a *app) compare(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	attempt := fs.String("attempt", "", "trainee attempt reference")
	teacher := fs.String("teacher", "", "teacher reference filling")
	history := fs.String("history", "", "comma-separated prior attempts, oldest first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *attempt == "" || *teacher == "" {
		return errors.New("compare: -attempt and -teacher are required")
	}

	verdict, err := a.engine.EvaluateTraining(ctx, domain.TrainingAttempt{
		Ref:         *attempt,
		TeacherRef:  *teacher,
		HistoryRefs: splitList(*history),
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(stdout, verdict.Table)
	return err
}

func (a *app) ledger(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	student := fs.String("student", "", "student id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id := domain.ParticipantID(*student)

	entries, err := a.store.Ledger(ctx, id)
	if err != nil {
		return err
	}
	done, err := a.store.Completed(ctx, id)
	if err != nil {
		return err
	}
	return writeJSON(stdout, struct {
		Student   domain.ParticipantID   `json:"student"`
		Completed bool                   `json:"completed"`
		Entries   []sqlstore.LedgerEntry `json:"entries"`
	}{id, done, entries})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFilling(pairs []string) (domain.RubricFilling, error) {
	filling := make(domain.RubricFilling, len(pairs))
	for _, pair := range pairs {
		crit, level, ok := strings.Cut(pair, "=")
		if !ok || crit == "" {
			return nil, fmt.Errorf("expected criterion=level, got %q", pair)
		}
		filling[domain.CriterionID(crit)] = domain.LevelID(level)
	}
	return filling, nil
}

func participants(s string) []domain.ParticipantID {
	parts := splitList(s)
	ids := make([]domain.ParticipantID, len(parts))
	for i, p := range parts {
		ids[i] = domain.ParticipantID(p)
	}
	return ids
}

func withRole(s string, role domain.Role) []domain.Participant {
	ids := participants(s)
	out := make([]domain.Participant, len(ids))
	for i, id := range ids {
		out[i] = domain.Participant{ID: id, Role: role}
	}
	return out
}
