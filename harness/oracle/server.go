// Package oracle runs op-program in pre-image server mode and exposes its
// hint and pre-image channels to the harness.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	preimage "github.com/ethereum-optimism/optimism/op-preimage"
	"github.com/ethereum/go-ethereum/log"
)

const clientPollTimeout = time.Second * 15

// ServerProcess is a running op-program pre-image server. The hint and
// pre-image channels ride on inherited file descriptors 3-6, the layout
// op-program expects in --server mode.
type ServerProcess struct {
	log      log.Logger
	pCl      *preimage.OracleClient
	hCl      *preimage.HintWriter
	cmd      *exec.Cmd
	waitErr  chan error
	cancelIO context.CancelCauseFunc
}

// StartServer launches the pre-image server binary and connects to it.
// An empty name yields an inert process handle whose Get panics; callers
// use that in dry runs where no pre-image is ever requested.
func StartServer(logger log.Logger, name string, args []string) (*ServerProcess, error) {
	if name == "" {
		return &ServerProcess{log: logger}, nil
	}

	pClientRW, pOracleRW, err := preimage.CreateBidirectionalChannel()
	if err != nil {
		return nil, err
	}
	hClientRW, hOracleRW, err := preimage.CreateBidirectionalChannel()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(name, args...) // nosemgrep
	cmd.Stdout = &LoggingWriter{Name: "server std-out", Log: logger}
	cmd.Stderr = &LoggingWriter{Name: "server std-err", Log: logger}
	cmd.ExtraFiles = []*os.File{
		hOracleRW.Reader(),
		hOracleRW.Writer(),
		pOracleRW.Reader(),
		pOracleRW.Writer(),
	}

	// The server does not close the client file descriptors when it exits,
	// so poll the channels to avoid blocking reads against a dead server.
	ctx, cancelIO := context.WithCancelCause(context.Background())
	preimageClientIO := preimage.NewFilePoller(ctx, pClientRW, clientPollTimeout)
	hintClientIO := preimage.NewFilePoller(ctx, hClientRW, clientPollTimeout)
	s := &ServerProcess{
		log:      logger,
		pCl:      preimage.NewOracleClient(preimageClientIO),
		hCl:      preimage.NewHintWriter(hintClientIO),
		cmd:      cmd,
		waitErr:  make(chan error),
		cancelIO: cancelIO,
	}
	logger.Info("Starting pre-image server", "bin", name)
	if err := cmd.Start(); err != nil {
		cancelIO(errors.New("pre-image server failed to start"))
		return nil, fmt.Errorf("failed to start pre-image server %q: %w", name, err)
	}
	go s.wait()
	return s, nil
}

func (s *ServerProcess) Hint(v preimage.Hint) {
	if s.hCl == nil { // no hint processor
		return
	}
	s.hCl.Hint(v)
}

func (s *ServerProcess) Get(k preimage.Key) []byte {
	if s.pCl == nil {
		panic("no pre-image retriever available")
	}
	return s.pCl.Get(k)
}

// Guard attributes a failure to the server when it already exited; the raw
// channel error alone does not say why the read broke.
func (s *ServerProcess) Guard(err error) error {
	if err == nil || s.cmd == nil {
		return err
	}
	if state := s.cmd.ProcessState; state != nil && state.Exited() {
		return fmt.Errorf("pre-image server exited with code %d, resulting in err %w", state.ExitCode(), err)
	}
	return err
}

func (s *ServerProcess) Close() error {
	if s.cmd == nil {
		return nil
	}
	// Give the server time to exit cleanly before killing it.
	time.Sleep(time.Second * 1)
	_ = s.cmd.Process.Signal(os.Interrupt)
	return <-s.waitErr
}

func (s *ServerProcess) wait() {
	err := s.cmd.Wait()
	var waitErr error
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || !exitErr.Success() {
		waitErr = err
	}
	s.cancelIO(fmt.Errorf("%w: pre-image server has exited", waitErr))
	s.waitErr <- waitErr
	close(s.waitErr)
}
