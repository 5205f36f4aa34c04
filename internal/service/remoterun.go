// remoterun.go — запуск агента на узлах по запросу (remote run).
//
// Запрос адресует один узел, список узлов или все известные узлы.
// Команда запуска выполняется через CommandRunner с таймаутом; результат
// хранится в ограниченной истории с истечением срока и доступен по
// идентификатору запуска.
package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/relayd/internal/domain/model"
	"github.com/bigkaa/relayd/internal/storage/nodes"
)

var (
	remoteRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_remote_runs_total",
		Help: "Количество запусков агента по результату",
	}, []string{"result"})

	remoteRunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_remote_run_duration_seconds",
		Help:    "Длительность запуска агента в секундах",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	})
)

// classPattern — допустимое имя класса (условия) агента.
var classPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_]*$`)

// maxOutputSize — предел сохраняемого вывода одного запуска.
const maxOutputSize = 1 << 20

// RemoteRunTarget — адресаты запуска. All исключает Nodes.
type RemoteRunTarget struct {
	All   bool
	Nodes []string
}

// RemoteRunRequest — разобранный запрос запуска.
type RemoteRunRequest struct {
	Target  RemoteRunTarget
	Classes []string
	// KeepOutput — сохранить вывод команды в результате
	KeepOutput bool
	// Asynchronous — вернуть ответ, не дожидаясь завершения
	Asynchronous bool
}

// ParseRemoteRunRequest разбирает параметры формы: classes (через запятую),
// keep_output, asynchronous. Недопустимый класс или флаг — ErrInvalidCondition.
func ParseRemoteRunRequest(target RemoteRunTarget, form map[string]string) (RemoteRunRequest, error) {
	req := RemoteRunRequest{Target: target}

	if raw := strings.TrimSpace(form["classes"]); raw != "" {
		for _, class := range strings.Split(raw, ",") {
			class = strings.TrimSpace(class)
			if !classPattern.MatchString(class) {
				return RemoteRunRequest{}, fmt.Errorf("%w: класс %q", model.ErrInvalidCondition, class)
			}
			req.Classes = append(req.Classes, class)
		}
	}

	var err error
	if req.KeepOutput, err = parseFlag(form, "keep_output"); err != nil {
		return RemoteRunRequest{}, err
	}
	if req.Asynchronous, err = parseFlag(form, "asynchronous"); err != nil {
		return RemoteRunRequest{}, err
	}
	return req, nil
}

func parseFlag(form map[string]string, name string) (bool, error) {
	raw, ok := form[name]
	if !ok || raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", model.ErrInvalidCondition, name, raw)
	}
	return v, nil
}

// SplitNodeList разбирает список узлов "a,b,c"; пустые элементы пропускаются.
func SplitNodeList(raw string) []string {
	var result []string
	for _, n := range strings.Split(raw, ",") {
		if n = strings.TrimSpace(n); n != "" {
			result = append(result, n)
		}
	}
	return result
}

// CommandRunner выполняет внешнюю команду и возвращает её объединённый вывод.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner — CommandRunner поверх os/exec.
type ExecRunner struct{}

// Run запускает команду; отмена ctx завершает процесс.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 5 * time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Статусы запуска.
const (
	ExecutionRunning   = "running"
	ExecutionSucceeded = "succeeded"
	ExecutionFailed    = "failed"
)

// Execution — один запуск агента. Поля после завершения не меняются.
type Execution struct {
	ID         string
	Nodes      []string
	Classes    []string
	StartedAt  time.Time
	keepOutput bool

	done chan struct{}

	mu         sync.Mutex
	finishedAt time.Time
	output     []byte
	err        error
}

// Wait ждёт завершения запуска или отмены ctx.
func (e *Execution) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done закрывается по завершении запуска.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// ExecutionView — представление запуска для API.
type ExecutionView struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Nodes      []string   `json:"nodes"`
	Classes    []string   `json:"classes,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Output     string     `json:"output,omitempty"`
}

// View возвращает текущее состояние запуска.
func (e *Execution) View() ExecutionView {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := ExecutionView{
		ID:        e.ID,
		Status:    ExecutionRunning,
		Nodes:     e.Nodes,
		Classes:   e.Classes,
		StartedAt: e.StartedAt,
	}
	if e.finishedAt.IsZero() {
		return v
	}

	finished := e.finishedAt
	v.FinishedAt = &finished
	v.Status = ExecutionSucceeded
	if e.err != nil {
		v.Status = ExecutionFailed
		v.Error = e.err.Error()
	}
	if e.keepOutput {
		v.Output = string(e.output)
	}
	return v
}

func (e *Execution) finish(output []byte, err error) {
	e.mu.Lock()
	if len(output) > maxOutputSize {
		output = output[len(output)-maxOutputSize:]
	}
	e.output = output
	e.err = err
	e.finishedAt = time.Now().UTC()
	e.mu.Unlock()
	close(e.done)
}

// RemoteRunService — диспетчер запусков агента.
type RemoteRunService struct {
	registry nodes.Registry
	runner   CommandRunner
	command  string
	timeout  time.Duration
	history  *expirable.LRU[string, *Execution]
	stats    *Stats
	logger   *slog.Logger

	// baseCtx отменяется при Shutdown и прерывает все запуски
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRemoteRunService создаёт диспетчер. historySize и retention
// ограничивают число и срок хранения результатов запусков.
func NewRemoteRunService(
	registry nodes.Registry,
	runner CommandRunner,
	command string,
	timeout time.Duration,
	historySize int,
	retention time.Duration,
	stats *Stats,
	logger *slog.Logger,
) *RemoteRunService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteRunService{
		registry: registry,
		runner:   runner,
		command:  command,
		timeout:  timeout,
		history:  expirable.NewLRU[string, *Execution](historySize, nil, retention),
		stats:    stats,
		logger:   logger.With(slog.String("component", "remote_run")),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Run разрешает адресатов и запускает команду в фоне.
// Возвращённый Execution можно ждать через Wait или найти позже через Get.
func (s *RemoteRunService) Run(ctx context.Context, req RemoteRunRequest) (*Execution, error) {
	hostnames, err := s.resolveTargets(ctx, req.Target)
	if err != nil {
		return nil, err
	}

	execution := &Execution{
		ID:         uuid.New().String(),
		Nodes:      hostnames,
		Classes:    req.Classes,
		StartedAt:  time.Now().UTC(),
		keepOutput: req.KeepOutput,
		done:       make(chan struct{}),
	}
	s.history.Add(execution.ID, execution)
	s.stats.runsStarted.Add(1)

	s.logger.Info("Запуск агента",
		slog.String("execution_id", execution.ID),
		slog.Int("nodes", len(hostnames)),
		slog.String("classes", strings.Join(req.Classes, ",")),
	)

	s.wg.Add(1)
	go s.execute(execution)

	return execution, nil
}

// Get возвращает запуск из истории.
func (s *RemoteRunService) Get(id string) (*Execution, bool) {
	return s.history.Get(id)
}

// Shutdown прерывает выполняющиеся запуски и дожидается их завершения.
func (s *RemoteRunService) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

func (s *RemoteRunService) execute(e *Execution) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.baseCtx, s.timeout)
	defer cancel()

	output, err := s.runner.Run(ctx, s.command, s.commandArgs(e)...)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("запуск прерван: %w", ctx.Err())
	}
	e.finish(output, err)

	duration := time.Since(e.StartedAt)
	remoteRunDurationSeconds.Observe(duration.Seconds())

	if err != nil {
		s.stats.runsFailed.Add(1)
		remoteRunsTotal.WithLabelValues(ExecutionFailed).Inc()
		s.logger.Warn("Запуск агента завершился ошибкой",
			slog.String("execution_id", e.ID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return
	}

	remoteRunsTotal.WithLabelValues(ExecutionSucceeded).Inc()
	s.logger.Info("Запуск агента завершён",
		slog.String("execution_id", e.ID),
		slog.Duration("duration", duration),
	)
}

// commandArgs — аргументы команды: remote run [-D classes] -H host1,host2.
func (s *RemoteRunService) commandArgs(e *Execution) []string {
	args := []string{"remote", "run"}
	if len(e.Classes) > 0 {
		args = append(args, "-D", strings.Join(e.Classes, ","))
	}
	return append(args, "-H", strings.Join(e.Nodes, ","))
}

// resolveTargets возвращает hostname адресатов в порядке запроса.
func (s *RemoteRunService) resolveTargets(ctx context.Context, target RemoteRunTarget) ([]string, error) {
	var list []nodes.Node
	if target.All {
		all, err := s.registry.List(ctx)
		if err != nil {
			return nil, err
		}
		list = all
	} else {
		seen := make(map[string]bool, len(target.Nodes))
		for _, id := range target.Nodes {
			node, err := s.registry.Lookup(ctx, id)
			if err != nil {
				return nil, err
			}
			if seen[node.ID] {
				continue
			}
			seen[node.ID] = true
			list = append(list, node)
		}
	}

	hostnames := make([]string, 0, len(list))
	for _, node := range list {
		if node.Hostname == "" {
			continue
		}
		hostnames = append(hostnames, node.Hostname)
	}
	if len(hostnames) == 0 {
		return nil, model.ErrNoTargetNodes
	}
	return hostnames, nil
}
