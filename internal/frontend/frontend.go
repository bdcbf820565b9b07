// Package frontend implements the master's TCP request frontend (C7):
// accept, frame, dispatch, reply, close, with leader-redirect for
// every command except heartbeat.
package frontend

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meghanachitturi5678/gfsmaster/internal/consensus"
	"github.com/meghanachitturi5678/gfsmaster/internal/lease"
	"github.com/meghanachitturi5678/gfsmaster/internal/membership"
	"github.com/meghanachitturi5678/gfsmaster/internal/metrics"
	"github.com/meghanachitturi5678/gfsmaster/internal/placement"
	"github.com/meghanachitturi5678/gfsmaster/internal/state"
	"github.com/meghanachitturi5678/gfsmaster/internal/wire"
)

// ReadTimeout is the per-connection socket read timeout (spec §5).
const ReadTimeout = 60 * time.Second

// Log is the subset of internal/consensus.Log the frontend needs.
type Log interface {
	Propose(cmd state.Command) (state.ApplyResult, error)
	Leader() (consensus.LeaderInfo, bool)
	IsLeader() bool
}

// Server is the request frontend (C7). It holds no locks across a
// propose call: it reads what it needs under Machine's own lock,
// releases it, builds the command, and only then calls Propose.
type Server struct {
	addr       string
	machine    *state.Machine
	tracker    *membership.Tracker
	log        Log
	leases     *lease.Manager
	replFactor int
	chunkSize  int64
	logger     logrus.FieldLogger
	metrics    *metrics.Collectors

	listener net.Listener
}

// New returns an unstarted frontend bound to addr.
func New(addr string, machine *state.Machine, tracker *membership.Tracker, log Log, leases *lease.Manager, replicationFactor int, chunkSize int64, collectors *metrics.Collectors, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		addr:       addr,
		machine:    machine,
		tracker:    tracker,
		log:        log,
		leases:     leases,
		replFactor: replicationFactor,
		chunkSize:  chunkSize,
		logger:     logger,
		metrics:    collectors,
	}
}

// ListenAndServe binds addr and serves connections until Close is
// called. Each connection is handled on its own goroutine; there is
// no ordering between distinct connections (spec §5).
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = l
	s.logger.WithField("addr", s.addr).Info("frontend listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.WithError(err).Warn("frontend: accept error")
			continue
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handleConn implements accept -> parse -> dispatch -> reply -> close
// for exactly one request (spec §4.7's frontend state machine).
func (s *Server) handleConn(nc net.Conn) {
	defer nc.Close()
	conn := wire.NewConn(nc)
	if err := conn.SetReadTimeout(ReadTimeout); err != nil {
		s.logger.WithError(err).Warn("frontend: set deadline")
		return
	}

	req, err := conn.ReadRequest()
	if err != nil {
		return // client disconnected or sent garbage; nothing to reply with
	}

	if req.Command == wire.CmdHeartbeat {
		// Heartbeats have no reply and thus no timeout (spec §5).
		s.handleHeartbeat(req)
		return
	}

	resp := s.dispatch(req)

	if err := conn.WriteResponse(resp); err != nil {
		s.logger.WithError(err).Warn("frontend: write response")
	}
}

func (s *Server) dispatch(req wire.Request) wire.Response {
	if !s.log.IsLeader() {
		return s.redirect()
	}

	switch req.Command {
	case wire.CmdUpload:
		return s.handleUpload(req)
	case wire.CmdDownload:
		return s.handleDownload(req)
	case wire.CmdListFiles:
		return s.handleListFiles()
	case wire.CmdLease:
		return s.handleLease(req)
	case wire.CmdUnlease:
		return s.handleUnlease(req)
	default:
		return wire.Error("unknown command: " + req.Command)
	}
}

func (s *Server) redirect() wire.Response {
	info, ok := s.log.Leader()
	if !ok {
		return wire.Error("no leader")
	}
	if s.metrics != nil {
		s.metrics.RedirectsTotal.Inc()
	}
	host, portStr, err := net.SplitHostPort(info.Addr)
	if err != nil {
		return wire.Error("no leader")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return wire.Error("no leader")
	}
	return wire.Redirect(host, port)
}

func (s *Server) handleHeartbeat(req wire.Request) {
	addr, err := wire.StringField(req.Payload, "address")
	if err != nil {
		// Older clients may send a bare port; identity is host:port
		// (spec §3), but within one process "port" alone is enough
		// to distinguish chunk servers sharing a host.
		port, portErr := wire.IntField(req.Payload, "port")
		if portErr != nil {
			return
		}
		addr = strconv.FormatInt(port, 10)
	}
	s.tracker.Touch(addr)
	if s.metrics != nil {
		s.metrics.HeartbeatsTotal.Inc()
		s.metrics.LiveServers.Set(float64(len(s.tracker.LiveSet())))
	}
}

func (s *Server) handleUpload(req wire.Request) wire.Response {
	filename, err := wire.StringField(req.Payload, "filename")
	if err != nil {
		return wire.Error(err.Error())
	}
	fileSize, err := wire.IntField(req.Payload, "file_size")
	if err != nil {
		return wire.Error(err.Error())
	}

	if s.machine.FileExists(filename) {
		return wire.Error(state.ErrAlreadyExists.Error())
	}

	numChunks := numChunks(fileSize, s.chunkSize)
	chunkIDs := placement.ChunkIDs(filename, numChunks)

	live := s.tracker.LiveSet()
	if len(live) == 0 {
		return wire.Error(state.ErrNoCapacity.Error())
	}
	replicaCounts := s.machine.ReplicaCounts()

	chunkPlacement := make(map[string][]string, len(chunkIDs))
	for _, chunkID := range chunkIDs {
		targets := placement.SelectTargets(live, replicaCounts, s.replFactor, nil)
		chunkPlacement[chunkID] = targets
		for _, t := range targets {
			replicaCounts[t]++
		}
	}

	result, err := s.log.Propose(state.Command{
		Kind:      state.KindAddFile,
		Filename:  filename,
		ChunkIDs:  chunkIDs,
		Placement: chunkPlacement,
	})
	if err != nil {
		return s.proposeError(err)
	}
	if result.Err != nil {
		return wire.Error(result.Err.Error())
	}

	chunksPayload := make(map[string]interface{}, len(chunkPlacement))
	for chunkID, servers := range chunkPlacement {
		chunksPayload[chunkID] = servers
	}
	return wire.Success(map[string]interface{}{"chunks": chunksPayload})
}

func (s *Server) handleDownload(req wire.Request) wire.Response {
	filename, err := wire.StringField(req.Payload, "filename")
	if err != nil {
		return wire.Error(err.Error())
	}
	chunks, ok := s.machine.FileChunks(filename)
	if !ok {
		return wire.Error(state.ErrNotFound.Error())
	}
	chunksPayload := make(map[string]interface{}, len(chunks))
	for _, chunkID := range chunks {
		servers, _ := s.machine.Replicas(chunkID)
		chunksPayload[chunkID] = servers
	}
	return wire.Success(map[string]interface{}{
		"chunk_ids": chunks,
		"chunks":    chunksPayload,
	})
}

func (s *Server) handleListFiles() wire.Response {
	return wire.Success(map[string]interface{}{"files": s.machine.ListFiles()})
}

func (s *Server) handleLease(req wire.Request) wire.Response {
	filename, err := wire.StringField(req.Payload, "filename")
	if err != nil {
		return wire.Error(err.Error())
	}
	clientID, err := wire.StringField(req.Payload, "client_id")
	if err != nil {
		return wire.Error(err.Error())
	}
	if err := s.leases.Grant(filename, clientID); err != nil {
		if errors.Is(err, lease.ErrAlreadyLeased) {
			return wire.Error("already leased")
		}
		return s.proposeError(err)
	}
	return wire.Success(nil)
}

func (s *Server) handleUnlease(req wire.Request) wire.Response {
	filename, err := wire.StringField(req.Payload, "filename")
	if err != nil {
		return wire.Error(err.Error())
	}
	if err := s.leases.Release(filename); err != nil {
		return s.proposeError(err)
	}
	return wire.Success(nil)
}

// proposeError translates a propose-path error into a wire response.
// A NotLeader surfacing here means leadership flipped between the
// frontend's own check and the propose call; redirecting is still
// correct in that case.
func (s *Server) proposeError(err error) wire.Response {
	switch {
	case errors.Is(err, consensus.ErrNotLeader):
		return s.redirect()
	case errors.Is(err, consensus.ErrTimeout):
		return wire.Error("commit timeout")
	default:
		return wire.Error(err.Error())
	}
}

func numChunks(fileSize, chunkSize int64) int {
	if fileSize <= 0 {
		return 0
	}
	n := fileSize / chunkSize
	if fileSize%chunkSize != 0 {
		n++
	}
	return int(n)
}
