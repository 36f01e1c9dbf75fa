package ptysvc

import (
	"time"

	"github.com/vibetunnel-go/vibetunneld/internal/inputchan"
	"github.com/vibetunnel-go/vibetunneld/internal/logger"
	"github.com/vibetunnel-go/vibetunneld/internal/session"
)

const (
	killPollInterval = 500 * time.Millisecond
	killGraceTotal   = 3000 * time.Millisecond
	killFinalWait    = 100 * time.Millisecond
)

// escalate implements the SIGTERM→SIGKILL escalation shared by the
// in-memory and external kill paths: signal pid (and its process
// group on POSIX), poll liveness, escalate to SIGKILL if still alive
// after the grace period.
//
// alive is injected by the caller; the in-memory path passes the live
// child's pid and the external path the pid recorded on disk, and both
// check it with session.ProcessAlive.
func escalate(pid int, sig int, alive func() bool) error {
	if pid <= 0 {
		return nil
	}
	if sig == SIGKILL {
		signalProcess(pid, SIGKILL)
		signalProcessGroup(pid, SIGKILL)
		time.Sleep(killFinalWait)
		return nil
	}

	if err := signalProcess(pid, sig); err != nil && alive() {
		return session.NewError(session.CodeKillFailed, "send signal", "", err)
	}
	signalProcessGroup(pid, sig)

	deadline := time.Now().Add(killGraceTotal)
	for time.Now().Before(deadline) {
		if !alive() {
			return nil
		}
		time.Sleep(killPollInterval)
	}
	if !alive() {
		return nil
	}

	signalProcess(pid, SIGKILL)
	signalProcessGroup(pid, SIGKILL)
	time.Sleep(killFinalWait)
	return nil
}

// Kill terminates a session, waiting until the process is confirmed
// gone. "Already gone" between check and signal is treated as success
// throughout, per the error-handling policy.
func (s *Supervisor) Kill(id string, sig int) error {
	if sig == 0 {
		sig = SIGTERM
	}

	s.mu.RLock()
	live, inMemory := s.live[id]
	s.mu.RUnlock()

	if inMemory {
		pid := live.pid()
		err := escalate(pid, sig, func() bool { return session.ProcessAlive(pid) })
		if err != nil {
			return session.NewError(session.CodeKillFailed, "escalate kill", id, err)
		}
		return nil
	}

	info, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if info.PID <= 0 {
		logger.Info("ptysvc: kill requested for session with no pid", "session", id)
		return nil
	}

	// External session: ask nicely via the control pipe first.
	paths := s.store.Paths(id)
	controlErr := inputchan.AppendControlMessage(paths.Control, inputchan.ControlMessage{Cmd: "kill", Signal: sig})
	if controlErr != nil {
		logger.Warn("ptysvc: control-pipe kill failed, falling back to direct signal", "session", id, "err", controlErr)
	} else {
		time.Sleep(inputchan.GraceWindow())
	}

	if !session.ProcessAlive(info.PID) {
		return nil
	}
	if err := escalate(info.PID, sig, func() bool { return session.ProcessAlive(info.PID) }); err != nil {
		return session.NewError(session.CodeKillFailed, "escalate external kill", id, err)
	}
	return nil
}
