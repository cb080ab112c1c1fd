// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nishisan-dev/backup-scheduler/internal/control"
	"github.com/nishisan-dev/backup-scheduler/internal/gc"
	"github.com/nishisan-dev/backup-scheduler/internal/hashutil"
	"github.com/nishisan-dev/backup-scheduler/internal/logging"
	"github.com/nishisan-dev/backup-scheduler/internal/metrics"
	"github.com/nishisan-dev/backup-scheduler/internal/store"
	"github.com/nishisan-dev/backup-scheduler/internal/worker"
	"golang.org/x/sync/errgroup"
)

// secondsToWaitClient é o tempo máximo que o loop espera por um comando de
// controle antes de seguir para reap/dispatch.
const secondsToWaitClient = 10 * time.Second

// Dispatcher spawna um worker para um (node, path) e retorna sem esperar
// por ele; o término da goroutine é sinalizado pelo done channel da
// RunningTask devolvida. Existe como uma
// interface só para os testes do loop poderem substituir o worker real
// por um dublê determinístico.
type Dispatcher interface {
	Dispatch(ctx context.Context, p worker.Params) *RunningTask
}

// workerDispatcher é o Dispatcher padrão: roda worker.Run em uma goroutine
// por task, respeitando o cancelamento do context.
type workerDispatcher struct {
	hasher hashutil.Hasher
	logger *slog.Logger
}

func (d *workerDispatcher) Dispatch(ctx context.Context, p worker.Params) *RunningTask {
	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := worker.Run(taskCtx, p, d.hasher, d.logger); err != nil {
			d.logger.Error("worker exited with error", "node", p.NodeAddress, "path", p.NodePath, "error", err)
		}
	}()
	return &RunningTask{WriteFilePath: p.WriteFilePath, done: done, cancel: cancel}
}

// Scheduler é o motor completo do orquestrador: mantém a
// schedule view, a fila de tasks devidas e o mapa de workers ativos, e
// serializa toda interação com o Store e com o canal de comando num único
// laço cooperativo.
type Scheduler struct {
	backupPath      string
	maxProcesses    int
	store           store.Store
	channel         *control.Channel
	adapter         *control.Adapter
	dispatcher      Dispatcher
	hasher          hashutil.Hasher
	logger          *slog.Logger
	metrics         *metrics.Metrics
	waitForClient   time.Duration
	sessionLogDir   string
	maxArtifactSize int64

	schedule map[taskKey]ScheduledTask
	running  map[taskKey]*RunningTask
	queue    taskQueue
}

// Config agrupa as dependências necessárias para montar um Scheduler.
type Config struct {
	BackupPath    string
	MaxProcesses  int
	Store         store.Store
	Channel       *control.Channel
	Hasher        hashutil.Hasher
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	WaitForClient time.Duration // zero usa secondsToWaitClient

	// SessionLogDir, se não vazio, grava o log individual de cada
	// execução de worker sob este diretório — ver worker.Params.SessionLogDir.
	SessionLogDir string

	// MaxArtifactSize, se maior que zero, é repassado a cada worker como o
	// teto de payload aceito — ver worker.Params.MaxArtifactSize.
	MaxArtifactSize int64

	// Dispatcher substitui o worker real por um dublê, usado apenas em
	// testes do loop; nil usa o workerDispatcher padrão.
	Dispatcher Dispatcher
}

// New monta um Scheduler pronto para Run.
func New(cfg Config) *Scheduler {
	wait := cfg.WaitForClient
	if wait == 0 {
		wait = secondsToWaitClient
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = &workerDispatcher{hasher: cfg.Hasher, logger: cfg.Logger}
	}
	return &Scheduler{
		backupPath:      cfg.BackupPath,
		maxProcesses:    cfg.MaxProcesses,
		store:           cfg.Store,
		channel:         cfg.Channel,
		adapter:         control.NewAdapter(cfg.Store),
		dispatcher:      dispatcher,
		hasher:          cfg.Hasher,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		waitForClient:   wait,
		sessionLogDir:   cfg.SessionLogDir,
		maxArtifactSize: cfg.MaxArtifactSize,
		running:         make(map[taskKey]*RunningTask),
	}
}

// Run bloqueia para sempre executando o laço principal até que ctx seja
// cancelado ou ocorra um erro fatal — neste caso termina todos os workers
// vivos e retorna o erro.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.refresh(ctx); err != nil {
		return fmt.Errorf("initial schedule load: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(ctx.Err())
		default:
		}

		start := time.Now()
		if err := s.step(ctx); err != nil {
			return s.shutdown(err)
		}
		if s.metrics != nil {
			s.metrics.LoopIterationTime.Observe(time.Since(start).Seconds())
		}
	}
}

// step executa uma iteração do loop: espera um comando, reap, dispatch.
func (s *Scheduler) step(ctx context.Context) error {
	select {
	case req, ok := <-s.channel.Requests:
		if ok {
			s.handleCommand(ctx, req)
		}
	case <-time.After(s.waitForClient):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.reap(ctx); err != nil {
		return err
	}

	s.dispatch(ctx)
	s.reportGauges()
	return nil
}

// handleCommand invoca o adapter, responde no canal de reply, e se a
// mutação invalida a schedule view, recarrega e roda o GC.
func (s *Scheduler) handleCommand(ctx context.Context, req control.Request) {
	data, tasksChanged, err := s.adapter.Handle(ctx, req)

	status := control.StatusOK
	if err != nil {
		s.logger.Error("command handling failed", "command", req.Command, "error", err)
		// Dois-pontos final inclusive: é o formato que os consumidores
		// do canal de controle já toleram.
		status = fmt.Sprintf("Error %s:", err)
	}
	if s.metrics != nil {
		s.metrics.CommandsHandled.WithLabelValues(status).Inc()
	}

	select {
	case s.channel.Replies <- control.Reply{ID: req.ID, Status: status, Data: data}:
	default:
		s.logger.Warn("reply channel full, dropping reply", "command", req.Command)
	}

	if tasksChanged {
		if err := s.refresh(ctx); err != nil {
			s.logger.Error("refreshing schedule after command failed", "error", err)
		}
	}
}

// reap varre as RunningTasks encerradas, inspeciona os sentinels na ordem
// CORRECT → SAME → nenhum, registra o histórico quando aplicável, e libera
// a vaga.
func (s *Scheduler) reap(ctx context.Context) error {
	for key, rt := range s.running {
		if !rt.Exited() {
			continue
		}
		rt.cancel()
		delete(s.running, key)

		outcome, err := s.reapOne(ctx, key, rt)
		if err != nil {
			return fmt.Errorf("reaping %s:%s: %w", key.NodeName, key.Path, err)
		}
		switch outcome {
		case reapCorrect, reapSame:
			if s.metrics != nil {
				s.metrics.FinishedTasks.Inc()
			}
			if err := s.refresh(ctx); err != nil {
				return fmt.Errorf("refreshing after reap of %s:%s: %w", key.NodeName, key.Path, err)
			}
		case reapFailed:
			if s.metrics != nil {
				s.metrics.DispatchErrors.Inc()
			}
		}
	}
	return nil
}

type reapOutcome int

const (
	reapFailed reapOutcome = iota
	reapCorrect
	reapSame
)

// reapOne inspeciona os sentinels de uma única RunningTask encerrada e
// aplica o resultado correspondente.
func (s *Scheduler) reapOne(ctx context.Context, key taskKey, rt *RunningTask) (reapOutcome, error) {
	correctPath := rt.WriteFilePath + worker.CorrectSuffix
	samePath := rt.WriteFilePath + worker.SameSuffix
	wipPath := rt.WriteFilePath + worker.WIPSuffix

	if _, err := os.Stat(correctPath); err == nil {
		if err := os.Remove(correctPath); err != nil {
			return reapFailed, fmt.Errorf("removing CORRECT sentinel: %w", err)
		}
		info, err := os.Stat(rt.WriteFilePath)
		if err != nil {
			return reapFailed, fmt.Errorf("statting finished artifact: %w", err)
		}

		checksum, err := s.hasher.HashFile(rt.WriteFilePath)
		if err != nil {
			return reapFailed, fmt.Errorf("hashing finished artifact: %w", err)
		}

		ft := store.FinishedTask{
			ResultPath: rt.WriteFilePath,
			KBSize:     float64(info.Size()) / 1024,
			Timestamp:  time.Now(),
			Checksum:   checksum,
		}
		if err := s.store.RegisterFinishedTask(ctx, key.NodeName, key.Path, ft); err != nil {
			return reapFailed, fmt.Errorf("registering finished task: %w", err)
		}
		s.logger.Info("backup finished successfully", "node", key.NodeName, "path", key.Path)
		logging.RemoveSessionLog(s.sessionLogDir, key.NodeName, filepath.Base(rt.WriteFilePath))
		return reapCorrect, nil
	}

	if _, err := os.Stat(samePath); err == nil {
		if err := os.Remove(samePath); err != nil {
			return reapFailed, fmt.Errorf("removing SAME sentinel: %w", err)
		}
		previous, err := s.store.GetNodeFinishedTasks(ctx, key.NodeName, key.Path)
		if err != nil {
			return reapFailed, fmt.Errorf("loading previous history for SAME outcome: %w", err)
		}
		if len(previous) == 0 {
			return reapFailed, fmt.Errorf("SAME outcome with no prior finished task for %s:%s", key.NodeName, key.Path)
		}
		ft := previous[0]
		ft.Timestamp = time.Now()
		if err := s.store.RegisterFinishedTask(ctx, key.NodeName, key.Path, ft); err != nil {
			return reapFailed, fmt.Errorf("registering SAME finished task: %w", err)
		}
		s.logger.Info("backup unchanged since last run", "node", key.NodeName, "path", key.Path)
		logging.RemoveSessionLog(s.sessionLogDir, key.NodeName, filepath.Base(rt.WriteFilePath))
		return reapSame, nil
	}

	// Nem CORRECT nem SAME: a execução falhou. Remove o artefato parcial
	// e o .WIP, se existirem; nenhum histórico é registrado.
	if err := os.Remove(rt.WriteFilePath); err != nil && !os.IsNotExist(err) {
		return reapFailed, fmt.Errorf("removing partial artifact: %w", err)
	}
	if err := os.Remove(wipPath); err != nil && !os.IsNotExist(err) {
		return reapFailed, fmt.Errorf("removing WIP sentinel: %w", err)
	}
	s.logger.Error("backup failed", "node", key.NodeName, "path", key.Path)
	return reapFailed, nil
}

// dispatch enfileira tasks devidas que ainda não estão na fila, então
// despacha workers até o limite de concorrência.
func (s *Scheduler) dispatch(ctx context.Context) {
	now := time.Now()
	for _, st := range s.schedule {
		if _, running := s.running[st.key()]; running {
			continue
		}
		if !st.shouldRun(now) {
			continue
		}
		entry := queueEntry{NodeName: st.NodeName, Path: st.Path, LastChecksum: st.LastChecksum}
		if !s.queue.contains(entry) {
			s.queue.prepend(entry)
		}
	}

	for len(s.running) < s.maxProcesses && s.queue.len() > 0 {
		entry, ok := s.queue.popTail()
		if !ok {
			break
		}
		key := entry.key()
		if _, running := s.running[key]; running {
			continue
		}

		host, port, err := s.store.GetNodeAddress(ctx, entry.NodeName)
		if err != nil {
			s.logger.Error("resolving node address for dispatch failed", "node", entry.NodeName, "error", err)
			continue
		}

		params := worker.Params{
			NodeName:         entry.NodeName,
			NodeAddress:      host,
			NodePort:         port,
			NodePath:         entry.Path,
			WriteFilePath:    writeFilePath(s.backupPath, time.Now(), entry.NodeName, entry.Path),
			PreviousChecksum: entry.LastChecksum,
			SessionLogDir:    s.sessionLogDir,
			MaxArtifactSize:  s.maxArtifactSize,
		}
		s.running[key] = s.dispatcher.Dispatch(ctx, params)
		s.logger.Debug("backup order launched", "node", entry.NodeName, "path", entry.Path)
	}
}

// refresh reconstrói a schedule view e roda o GC, nessa ordem — a
// combinação disparada após qualquer mutação de configuração ou reap
// bem-sucedido.
func (s *Scheduler) refresh(ctx context.Context) error {
	view, err := rebuildSchedule(ctx, s.store)
	if err != nil {
		return err
	}
	s.schedule = view

	valid, err := validPrefixes(ctx, s.store, s.running)
	if err != nil {
		return fmt.Errorf("computing valid GC prefixes: %w", err)
	}
	deleted, err := gc.Clean(s.backupPath, valid)
	if err != nil {
		return fmt.Errorf("cleaning backup directory: %w", err)
	}
	if len(deleted) > 0 && s.metrics != nil {
		s.metrics.GCDeletions.Add(float64(len(deleted)))
	}
	return nil
}

// reportGauges atualiza as métricas de gauge refletidas no estado atual
// do loop.
func (s *Scheduler) reportGauges() {
	if s.metrics == nil {
		return
	}
	s.metrics.RunningTasks.Set(float64(len(s.running)))
	s.metrics.QueueLength.Set(float64(s.queue.len()))
}

// shutdown fecha o canal de reply e cancela todo worker vivo, aguardando
// um prazo limitado antes de retornar. golang.org/x/sync/errgroup dá o
// fan-in de espera.
func (s *Scheduler) shutdown(cause error) error {
	s.channel.Close()

	g, _ := errgroup.WithContext(context.Background())
	for _, rt := range s.running {
		rt := rt
		rt.cancel()
		g.Go(func() error {
			select {
			case <-rt.done:
			case <-time.After(5 * time.Second):
			}
			return nil
		})
	}
	_ = g.Wait()

	return fmt.Errorf("scheduler loop terminated: %w", cause)
}
