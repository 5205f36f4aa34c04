package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/relayd/internal/domain/model"
	"github.com/bigkaa/relayd/internal/storage/nodes"
)

// fakeRunner записывает вызовы и возвращает заданный результат.
// При block != nil ждёт закрытия block или отмены контекста.
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	output []byte
	err    error
	block  chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.output, f.err
}

func (f *fakeRunner) lastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func newTestRemoteRun(t *testing.T, runner CommandRunner, timeout time.Duration) (*RemoteRunService, *Stats) {
	t.Helper()
	registry := newMemRegistry(
		nodes.Node{ID: "root", Hostname: "server.rudder.local"},
		nodes.Node{ID: "n1", Hostname: "node1.rudder.local"},
		nodes.Node{ID: "n2", Hostname: "node2.rudder.local"},
	)
	stats := NewStats()
	svc := NewRemoteRunService(registry, runner, "/opt/rudder/bin/rudder", timeout, 16, time.Hour, stats, testLogger())
	t.Cleanup(svc.Shutdown)
	return svc, stats
}

func TestParseRemoteRunRequest(t *testing.T) {
	target := RemoteRunTarget{Nodes: []string{"n1"}}

	req, err := ParseRemoteRunRequest(target, map[string]string{
		"classes":      "class1, class_2,Class3",
		"keep_output":  "true",
		"asynchronous": "false",
	})
	if err != nil {
		t.Fatalf("ParseRemoteRunRequest: %v", err)
	}
	if !reflect.DeepEqual(req.Classes, []string{"class1", "class_2", "Class3"}) {
		t.Errorf("Classes = %v", req.Classes)
	}
	if !req.KeepOutput || req.Asynchronous {
		t.Errorf("флаги: keep_output=%v asynchronous=%v", req.KeepOutput, req.Asynchronous)
	}

	empty, err := ParseRemoteRunRequest(target, map[string]string{})
	if err != nil {
		t.Fatalf("пустая форма: %v", err)
	}
	if empty.Classes != nil || empty.KeepOutput || empty.Asynchronous {
		t.Errorf("значения по умолчанию: %+v", empty)
	}
}

func TestParseRemoteRunRequest_Invalid(t *testing.T) {
	forms := []map[string]string{
		{"classes": "bad-class"},
		{"classes": "_leading"},
		{"classes": "a,,b"},
		{"classes": "a;rm -rf /"},
		{"keep_output": "maybe"},
		{"asynchronous": "2"},
	}
	for _, form := range forms {
		_, err := ParseRemoteRunRequest(RemoteRunTarget{All: true}, form)
		if !errors.Is(err, model.ErrInvalidCondition) {
			t.Errorf("форма %v: ожидалась ErrInvalidCondition, получено %v", form, err)
		}
	}
}

func TestSplitNodeList(t *testing.T) {
	got := SplitNodeList(" n1, ,n2,")
	if !reflect.DeepEqual(got, []string{"n1", "n2"}) {
		t.Errorf("SplitNodeList = %v", got)
	}
	if SplitNodeList("") != nil {
		t.Error("пустая строка должна давать nil")
	}
}

func TestRemoteRun_Nodes(t *testing.T) {
	runner := &fakeRunner{output: []byte("agent output")}
	svc, stats := newTestRemoteRun(t, runner, time.Minute)
	ctx := context.Background()

	exec, err := svc.Run(ctx, RemoteRunRequest{
		Target:     RemoteRunTarget{Nodes: []string{"n1", "node2.rudder.local", "n1"}},
		Classes:    []string{"c1", "c2"},
		KeepOutput: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := exec.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	want := []string{"/opt/rudder/bin/rudder", "remote", "run", "-D", "c1,c2", "-H", "node1.rudder.local,node2.rudder.local"}
	if got := runner.lastCall(); !reflect.DeepEqual(got, want) {
		t.Errorf("команда = %v, ожидалось %v", got, want)
	}

	view := exec.View()
	if view.Status != ExecutionSucceeded || view.Output != "agent output" || view.FinishedAt == nil {
		t.Errorf("View = %+v", view)
	}

	found, ok := svc.Get(exec.ID)
	if !ok || found != exec {
		t.Error("запуск должен находиться в истории")
	}

	if snap := stats.Snapshot(0); snap.RemoteRunsStarted != 1 || snap.RemoteRunsFailed != 0 {
		t.Errorf("статистика: %+v", snap)
	}
}

func TestRemoteRun_AllWithoutClasses(t *testing.T) {
	runner := &fakeRunner{output: []byte("hidden")}
	svc, _ := newTestRemoteRun(t, runner, time.Minute)
	ctx := context.Background()

	exec, err := svc.Run(ctx, RemoteRunRequest{Target: RemoteRunTarget{All: true}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := exec.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	want := []string{"/opt/rudder/bin/rudder", "remote", "run", "-H",
		"node1.rudder.local,node2.rudder.local,server.rudder.local"}
	if got := runner.lastCall(); !reflect.DeepEqual(got, want) {
		t.Errorf("команда = %v, ожидалось %v", got, want)
	}
	if out := exec.View().Output; out != "" {
		t.Errorf("вывод без keep_output не должен возвращаться: %q", out)
	}
}

func TestRemoteRun_TargetErrors(t *testing.T) {
	svc, _ := newTestRemoteRun(t, &fakeRunner{}, time.Minute)
	ctx := context.Background()

	_, err := svc.Run(ctx, RemoteRunRequest{Target: RemoteRunTarget{Nodes: []string{"n1", "ghost"}}})
	if !errors.Is(err, model.ErrNodeNotFound) {
		t.Errorf("ожидалась ErrNodeNotFound, получено %v", err)
	}

	_, err = svc.Run(ctx, RemoteRunRequest{Target: RemoteRunTarget{}})
	if !errors.Is(err, model.ErrNoTargetNodes) {
		t.Errorf("ожидалась ErrNoTargetNodes, получено %v", err)
	}
}

func TestRemoteRun_Failure(t *testing.T) {
	runner := &fakeRunner{output: []byte("boom"), err: errors.New("exit status 1")}
	svc, stats := newTestRemoteRun(t, runner, time.Minute)
	ctx := context.Background()

	exec, err := svc.Run(ctx, RemoteRunRequest{Target: RemoteRunTarget{Nodes: []string{"n1"}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := exec.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	view := exec.View()
	if view.Status != ExecutionFailed || view.Error != "exit status 1" {
		t.Errorf("View = %+v", view)
	}
	if snap := stats.Snapshot(0); snap.RemoteRunsFailed != 1 {
		t.Errorf("RemoteRunsFailed = %d", snap.RemoteRunsFailed)
	}
}

func TestRemoteRun_Timeout(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	svc, _ := newTestRemoteRun(t, runner, 50*time.Millisecond)
	ctx := context.Background()

	exec, err := svc.Run(ctx, RemoteRunRequest{Target: RemoteRunTarget{Nodes: []string{"n1"}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if v := exec.View(); v.Status != ExecutionRunning && v.Status != ExecutionFailed {
		t.Errorf("неожиданный статус %s", v.Status)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := exec.Wait(waitCtx); err != nil {
		t.Fatalf("запуск не завершился по таймауту: %v", err)
	}
	if v := exec.View(); v.Status != ExecutionFailed {
		t.Errorf("Status = %s, ожидалось failed", v.Status)
	}
}

func TestRemoteRun_WaitCancelled(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	svc, _ := newTestRemoteRun(t, runner, time.Minute)

	exec, err := svc.Run(context.Background(), RemoteRunRequest{Target: RemoteRunTarget{Nodes: []string{"n1"}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := exec.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait с отменённым контекстом: %v", err)
	}
	if exec.View().Status != ExecutionRunning {
		t.Error("запуск должен продолжаться после отмены ожидания")
	}

	close(runner.block)
	if err := exec.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestRemoteRun_ShutdownCancelsRunning(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	svc, _ := newTestRemoteRun(t, runner, time.Hour)

	exec, err := svc.Run(context.Background(), RemoteRunRequest{Target: RemoteRunTarget{All: true}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	svc.Shutdown()

	select {
	case <-exec.Done():
	default:
		t.Fatal("Shutdown должен дождаться завершения запусков")
	}
	if exec.View().Status != ExecutionFailed {
		t.Errorf("прерванный запуск: %s", exec.View().Status)
	}
}
