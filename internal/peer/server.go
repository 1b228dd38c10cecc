// internal/peer/server.go
package peer

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/openwearable/badgecore/internal/ble"
	"github.com/openwearable/badgecore/internal/catalog"
	"github.com/openwearable/badgecore/internal/egress"
	"github.com/openwearable/badgecore/internal/gatt"
	"github.com/openwearable/badgecore/internal/pipeline"
	"github.com/openwearable/badgecore/internal/session"
)

// Server pumps wireless host events into the session machine and the
// egress worker, and serves the readable characteristics. Command
// handlers never mutate session state themselves: they enqueue worker
// commands, record selections, or answer with a status code.
type Server struct {
	stack   ble.Stack
	machine *session.Machine
	worker  *egress.Worker
	cat     *catalog.Catalog
	pipe    *pipeline.Controller
	logger  *log.Logger
}

// NewServer wires the peer surface and registers the read handler.
func NewServer(
	stack ble.Stack,
	machine *session.Machine,
	worker *egress.Worker,
	cat *catalog.Catalog,
	pipe *pipeline.Controller,
	logger *log.Logger,
) *Server {
	s := &Server{
		stack:   stack,
		machine: machine,
		worker:  worker,
		cat:     cat,
		pipe:    pipe,
		logger:  logger.With("task", "peer"),
	}
	stack.SetReadHandler(s.handleRead)
	return s
}

// Run consumes stack events until the context ends.
func (s *Server) Run(ctx context.Context) {
	events := s.stack.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			s.handleEvent(evt)
		}
	}
}

func (s *Server) handleEvent(evt ble.Event) {
	switch evt.Type {
	case ble.EvtConnected:
		s.logger.Info("peer connected", "conn", evt.Conn, "mtu", evt.MTU)
		s.machine.OnConnect(evt.Conn, evt.MTU)
	case ble.EvtDisconnected:
		s.logger.Info("peer disconnected", "conn", evt.Conn)
		s.machine.OnDisconnect()
	case ble.EvtSubscription:
		s.machine.SetSubscription(evt.Attr, evt.Enabled)
	case ble.EvtMTUChanged:
		s.logger.Debug("mtu changed", "mtu", evt.MTU)
		s.machine.SetMTU(evt.MTU)
	case ble.EvtNotifySent:
		if evt.Attr == ble.ChrEgressData {
			s.worker.ReturnCredit()
		}
	case ble.EvtWrite:
		if evt.Attr == ble.ChrEgressControl {
			s.handleCommand(evt.Data)
		}
	}
}

// handleCommand parses and dispatches one control write.
func (s *Server) handleCommand(data []byte) {
	cmd, err := gatt.ParseCommand(data)
	if err != nil {
		s.logger.Warn("control write rejected", "err", err)
		s.emit(gatt.StatusBadCommand)
		return
	}
	s.logger.Debug("command", "op", cmd.Op.String())

	switch cmd.Op {
	case gatt.OpStart:
		s.worker.EnqueueStart()
	case gatt.OpPause:
		s.worker.Pause()
	case gatt.OpResume:
		s.worker.Resume()
	case gatt.OpSelectFile:
		path, err := s.cat.SelectByIndex(cmd.Index)
		if err != nil {
			s.emit(gatt.StatusInvalidIndex)
			return
		}
		s.machine.SetSelected(path)
		s.emit(gatt.StatusFileSelected)
		s.worker.EnqueueStart()
	case gatt.OpListFiles:
		s.emit(gatt.StatusListReady)
	case gatt.OpStop:
		s.worker.EnqueueStop()
	case gatt.OpStartWithFilename:
		path, err := s.cat.ResolveName(cmd.Filename)
		switch {
		case errors.Is(err, catalog.ErrNoFile):
			s.emit(gatt.StatusNoFile)
			return
		case err != nil:
			s.emit(gatt.StatusBadCommand)
			return
		}
		s.machine.SetSelected(path)
		s.worker.EnqueueStart()
	}
}

// handleRead serves the readable characteristics.
func (s *Server) handleRead(conn ble.ConnHandle, attr ble.AttrHandle) ([]byte, error) {
	switch attr {
	case ble.ChrRecordControl:
		// Read-only by policy: the flag is observable, never writable,
		// so a paired host cannot start a capture remotely.
		return []byte{boolByte(s.pipe.Recording())}, nil
	case ble.ChrAudioStatus:
		count, sd := s.countRecordings()
		return gatt.StatusRecord{
			AudioEnabled:    true,
			SDAvailable:     sd,
			Recording:       s.pipe.Recording(),
			TotalRecordings: count,
		}.Encode(), nil
	case ble.ChrFileCount:
		count, _ := s.countRecordings()
		return gatt.EncodeFileCount(count), nil
	case ble.ChrFileList:
		// Legacy stub; enumeration ships via the auto-select summary.
		return []byte("Use auto-select listing\n"), nil
	case ble.ChrAutoSelect:
		return []byte(s.cat.Summary()), nil
	}
	return nil, ble.ErrNotPermitted
}

func (s *Server) countRecordings() (uint32, bool) {
	n, err := s.cat.Count()
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// emit notifies one status byte; best-effort like the worker's own path.
func (s *Server) emit(code gatt.Status) {
	conn := s.machine.Conn()
	if conn == 0 {
		return
	}
	if err := s.stack.Notify(conn, ble.ChrEgressStatus, []byte{byte(code)}); err != nil {
		s.logger.Debug("status notify", "code", code.String(), "err", err)
	}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
