// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package worker implementa o handler "one-shot" que puxa um path de um
// node para um arquivo local, via internal/nodeproto, e reporta o
// resultado exclusivamente através do arquivo final e dos sentinels
// (.WIP, .CORRECT, .SAME) — nunca por um canal de retorno direto.
//
// Cada execução é uma goroutine com um context.Context cancelável. O
// reaper do scheduler depende apenas do contrato arquivo + sentinels +
// término, nunca de estado compartilhado com o worker.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nishisan-dev/backup-scheduler/internal/hashutil"
	"github.com/nishisan-dev/backup-scheduler/internal/logging"
	"github.com/nishisan-dev/backup-scheduler/internal/nodeproto"
)

// noopCloser é usado quando a abertura do log de sessão falha: o worker
// continua rodando com o logger global em vez de abortar a execução.
type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// Sufixos de sentinel. O reaper do scheduler inspeciona .CORRECT antes de
// .SAME; .WIP só é removido por ele quando nenhum dos dois existe.
const (
	CorrectSuffix = ".CORRECT"
	WIPSuffix     = ".WIP"
	SameSuffix    = ".SAME"
)

// DialTimeout é o tempo máximo para estabelecer a conexão TCP inicial com
// o node agent antes de desistir.
const DialTimeout = 30 * time.Second

// Params são os parâmetros de entrada de uma execução de worker.
type Params struct {
	NodeName         string
	NodeAddress      string
	NodePort         int
	NodePath         string
	WriteFilePath    string
	PreviousChecksum string

	// SessionLogDir, se não vazio, faz o worker gravar seu próprio log em
	// {SessionLogDir}/{NodeName}/{basename(WriteFilePath)}.log além do
	// logger global, via logging.NewSessionLogger. O
	// scheduler remove esse arquivo no reap de uma execução bem-sucedida
	// (SessionID retorna o nome usado, para o reaper reconstruir o path).
	SessionLogDir string

	// MaxArtifactSize, se maior que zero, faz o worker recusar payloads
	// cujo tamanho anunciado exceda o limite, abortando antes de criar o
	// .WIP — a task volta a ficar devida como qualquer falha transitória.
	MaxArtifactSize int64
}

// SessionID é o identificador usado para nomear o log de sessão de uma
// execução — o basename do artefato, que já é único por dispatch.
func (p Params) SessionID() string {
	return filepath.Base(p.WriteFilePath)
}

// Run executa o protocolo completo contra o node agent e retorna
// apenas quando termina — o caller (scheduler.dispatch) roda isso numa
// goroutine e descobre o término via um done channel, nunca via o valor
// de retorno desta função, que existe só para logging e testes diretos.
//
// Qualquer erro de I/O antes de criar o .WIP aborta sem deixar rastro
// (nenhum sentinel, nenhum arquivo). Qualquer erro depois disso aborta
// deixando .WIP e o arquivo parcial para o reaper limpar — o scheduler é
// quem decide que isso conta como falha, não o worker.
func Run(ctx context.Context, p Params, hasher hashutil.Hasher, logger *slog.Logger) error {
	sessionLogger, closer, _, err := logging.NewSessionLogger(logger, p.SessionLogDir, p.NodeName, p.SessionID())
	if err != nil {
		logger.Warn("opening session log failed, continuing with base logger", "node", p.NodeName, "error", err)
		sessionLogger, closer = logger, noopCloser{}
	}
	defer closer.Close()
	logger = sessionLogger.With("node", p.NodeAddress, "path", p.NodePath, "file", p.WriteFilePath)
	logger.Debug("starting node handler")

	conn, err := nodeproto.Dial(p.NodeAddress, p.NodePort, DialTimeout)
	if err != nil {
		logger.Warn("connecting to node failed, aborting with no trace", "error", err)
		return nil
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	if err := nodeproto.SendRequest(conn, p.PreviousChecksum, p.NodePath); err != nil {
		logger.Warn("sending node request failed, aborting with no trace", "error", err)
		return nil
	}

	same, fileSize, err := nodeproto.ReadReplyHeader(conn)
	if err != nil {
		logger.Warn("reading node reply header failed, aborting with no trace", "error", err)
		return nil
	}

	if same {
		logger.Debug("backup unchanged since last run")
		return writeSentinel(p.WriteFilePath + SameSuffix)
	}

	if p.MaxArtifactSize > 0 && fileSize > p.MaxArtifactSize {
		logger.Warn("announced payload exceeds max artifact size, aborting with no trace",
			"announced", fileSize, "limit", p.MaxArtifactSize)
		return nil
	}

	if err := nodeproto.SendOK(conn); err != nil {
		logger.Warn("acking byte count failed, aborting with no trace", "error", err)
		return nil
	}

	// A partir daqui o .WIP existe: qualquer falha é responsabilidade do
	// reaper, não mais do worker.
	if err := writeSentinel(p.WriteFilePath + WIPSuffix); err != nil {
		return fmt.Errorf("creating WIP sentinel: %w", err)
	}

	f, err := os.OpenFile(p.WriteFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Error("opening artifact file failed", "error", err)
		return nil
	}

	if err := nodeproto.ReceivePayload(conn, f, fileSize); err != nil {
		f.Close()
		logger.Error("receiving payload failed, leaving WIP for reaper", "error", err)
		return nil
	}
	if err := f.Close(); err != nil {
		logger.Error("closing artifact file failed, leaving WIP for reaper", "error", err)
		return nil
	}

	if err := nodeproto.SendOK(conn); err != nil {
		logger.Error("acking payload receipt failed, leaving WIP for reaper", "error", err)
		return nil
	}

	remoteChecksum, err := nodeproto.ReadChecksum(conn)
	if err != nil {
		logger.Error("reading checksum trailer failed, leaving WIP for reaper", "error", err)
		return nil
	}

	// A verificação local do checksum é só para log: um mismatch aqui não
	// rebaixa o resultado para FAILED. O checksum que realmente vira o
	// FinishedTask é recomputado pelo scheduler no reap, independentemente
	// deste aqui.
	if localChecksum, err := hasher.HashFile(p.WriteFilePath); err != nil {
		logger.Warn("computing local checksum for verification failed", "error", err)
	} else if localChecksum != remoteChecksum {
		logger.Warn("checksum mismatch", "local", localChecksum, "remote", remoteChecksum)
	} else {
		logger.Debug("checksum verified", "checksum", localChecksum)
	}

	if err := writeSentinel(p.WriteFilePath + CorrectSuffix); err != nil {
		return fmt.Errorf("creating CORRECT sentinel: %w", err)
	}
	if err := os.Remove(p.WriteFilePath + WIPSuffix); err != nil {
		logger.Warn("removing WIP sentinel after CORRECT failed", "error", err)
	}

	logger.Debug("node handler finished")
	return nil
}

func writeSentinel(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating sentinel %s: %w", path, err)
	}
	return f.Close()
}
