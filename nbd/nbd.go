// Package nbd implements a read-only NBD (Network Block Device) server.
// It exposes io.ReaderAt exports via the fixed-newstyle Linux NBD protocol.
package nbd

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/errgroup"
)

// NBD protocol constants
const (
	nbdMagic            = uint64(0x4e42444d41474943) // "NBDMAGIC"
	nbdOptionMagic      = uint64(0x49484156454F5054) // "IHAVEOPT"
	nbdReplyMagic       = uint64(0x3e889045565a9)
	nbdRequestMagic     = uint32(0x25609513)
	nbdReplyMagicSimple = uint32(0x67446698)

	nbdFlagFixedNewstyle = uint16(1 << 0)
	nbdFlagNoZeroes      = uint16(1 << 1)
	nbdFlagCNoZeroes     = uint32(1 << 1)

	nbdFlagHasFlags  = uint16(1 << 0)
	nbdFlagReadOnly  = uint16(1 << 1)
	nbdFlagSendFlush = uint16(1 << 2)

	nbdOptExportName = uint32(1)
	nbdOptAbort      = uint32(2)
	nbdOptList       = uint32(3)
	nbdOptGo         = uint32(7)

	nbdRepAck        = uint32(1)
	nbdRepServer     = uint32(2)
	nbdRepInfo       = uint32(3)
	nbdRepErrUnsup   = uint32(0x80000001)
	nbdRepErrUnknown = uint32(0x80000006)

	nbdInfoExport    = uint16(0)
	nbdInfoBlockSize = uint16(3)

	nbdCmdRead  = uint16(0)
	nbdCmdWrite = uint16(1)
	nbdCmdDisc  = uint16(2)
	nbdCmdFlush = uint16(3)
	nbdCmdTrim  = uint16(4)

	nbdErrNone  = uint32(0)
	nbdErrPerm  = uint32(1)
	nbdErrIO    = uint32(5)
	nbdErrInval = uint32(22)

	exportFlags      = nbdFlagHasFlags | nbdFlagReadOnly | nbdFlagSendFlush
	defaultBlockSize = uint32(4096)
	maxPayload       = uint32(32 * 1024 * 1024)
	maxOptionLen     = uint32(4096)
)

var (
	// ErrDuplicateExport is returned by New when two exports share a name.
	ErrDuplicateExport = errors.New(errors.CodeAlreadyExists, "export already exists")
	// ErrNoExports is returned by New without exports.
	ErrNoExports = errors.New(errors.CodeInvalidInput, "no exports defined")
	// ErrProtocol is wrapped by negotiation failures caused by the client.
	ErrProtocol = errors.New(errors.CodeInvalidInput, "nbd protocol violation")
)

// Export defines a named block device to expose
type Export struct {
	Name   string      // Export name that clients use to connect
	Reader io.ReaderAt // Data source
	Size   int64       // Size of the export in bytes
}

// Server serves a fixed set of exports. All exports are read-only.
type Server struct {
	exports []Export
	log     *slog.Logger
}

// session represents an active client connection
type session struct {
	server   *Server
	conn     net.Conn
	export   *Export
	noZeroes bool
	log      *slog.Logger
}

// New returns a server for exports. The first export is the default for
// clients that ask for an empty name. A nil logger discards output.
func New(log *slog.Logger, exports ...Export) (*Server, error) {
	if len(exports) == 0 {
		return nil, ErrNoExports
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	seen := make(map[string]bool, len(exports))
	for _, exp := range exports {
		if seen[exp.Name] {
			return nil, fmt.Errorf("export %q: %w", exp.Name, ErrDuplicateExport)
		}
		seen[exp.Name] = true
	}
	return &Server{exports: append([]Export(nil), exports...), log: log}, nil
}

// Exports returns the exports in listing order.
func (s *Server) Exports() []Export {
	return append([]Export(nil), s.exports...)
}

func (s *Server) getExport(name string) *Export {
	for i := range s.exports {
		if s.exports[i].Name == name {
			return &s.exports[i]
		}
	}
	return nil
}

// Serve accepts connections on ln until ctx is done, then closes ln and
// every open session. It returns nil after a cancellation and the accept
// error otherwise.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	s.log.Info("listening", "network", ln.Addr().Network(), "address", ln.Addr().String())
	for _, exp := range s.exports {
		s.log.Info("export", "name", exp.Name, "bytes", exp.Size)
	}

	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			g.Go(func() error {
				stop := context.AfterFunc(gctx, func() { conn.Close() })
				defer stop()
				if err := s.ServeConn(conn); err != nil {
					s.log.Warn("session failed", "remote", conn.RemoteAddr().String(), "error", err)
				}
				return nil
			})
		}
	})

	return g.Wait()
}

// ServeConn runs one session on conn and closes it. A client disconnect or
// abort ends the session without error.
func (s *Server) ServeConn(conn net.Conn) error {
	defer conn.Close()

	sess := &session{
		server: s,
		conn:   conn,
		log:    s.log.With("remote", conn.RemoteAddr().String()),
	}
	sess.log.Debug("connection opened")

	done, err := sess.negotiate()
	if err != nil {
		return fmt.Errorf("negotiation: %w", err)
	}
	if !done {
		sess.log.Debug("client aborted")
		return nil
	}

	if err := sess.transmit(); err != nil && err != io.EOF {
		return fmt.Errorf("transmission: %w", err)
	}
	sess.log.Debug("connection closed", "export", sess.export.Name)
	return nil
}

// negotiate runs option haggling. It reports false if the client aborted.
func (sess *session) negotiate() (bool, error) {
	greeting := make([]byte, 18)
	binary.BigEndian.PutUint64(greeting[0:8], nbdMagic)
	binary.BigEndian.PutUint64(greeting[8:16], nbdOptionMagic)
	binary.BigEndian.PutUint16(greeting[16:18], nbdFlagFixedNewstyle|nbdFlagNoZeroes)

	if _, err := sess.conn.Write(greeting); err != nil {
		return false, fmt.Errorf("send greeting: %w", err)
	}

	clientFlags := make([]byte, 4)
	if _, err := io.ReadFull(sess.conn, clientFlags); err != nil {
		return false, fmt.Errorf("read client flags: %w", err)
	}
	sess.noZeroes = binary.BigEndian.Uint32(clientFlags)&nbdFlagCNoZeroes != 0

	optHeader := make([]byte, 16)
	for {
		if _, err := io.ReadFull(sess.conn, optHeader); err != nil {
			return false, fmt.Errorf("read option header: %w", err)
		}

		if magic := binary.BigEndian.Uint64(optHeader[0:8]); magic != nbdOptionMagic {
			return false, fmt.Errorf("bad option magic %x: %w", magic, ErrProtocol)
		}

		optType := binary.BigEndian.Uint32(optHeader[8:12])
		optLen := binary.BigEndian.Uint32(optHeader[12:16])
		if optLen > maxOptionLen {
			return false, fmt.Errorf("option %d of %d bytes: %w", optType, optLen, ErrProtocol)
		}

		optData := make([]byte, optLen)
		if _, err := io.ReadFull(sess.conn, optData); err != nil {
			return false, fmt.Errorf("read option data: %w", err)
		}

		done, abort, err := sess.handleOption(optType, optData)
		if err != nil || abort {
			return false, err
		}
		if done {
			return true, nil
		}
	}
}

func (sess *session) handleOption(optType uint32, optData []byte) (done, abort bool, err error) {
	switch optType {
	case nbdOptExportName:
		name := string(optData)
		export := sess.server.getExport(name)
		if export == nil {
			// this option has no error reply; the client only sees the close
			return false, false, fmt.Errorf("unknown export %q: %w", name, ErrProtocol)
		}
		sess.export = export
		return true, false, sess.sendOldstyleExportInfo()

	case nbdOptGo:
		name := ""
		if len(optData) >= 4 {
			nameLen := binary.BigEndian.Uint32(optData[0:4])
			if uint64(4)+uint64(nameLen) <= uint64(len(optData)) {
				name = string(optData[4 : 4+nameLen])
			}
		}

		export := sess.server.getExport(name)
		if export == nil && name == "" {
			export = &sess.server.exports[0]
		}
		if export == nil {
			return false, false, sess.sendOptionReply(optType, nbdRepErrUnknown, nil)
		}

		sess.export = export
		if err := sess.sendExportInfo(optType); err != nil {
			return false, false, err
		}
		return true, false, nil

	case nbdOptList:
		for _, exp := range sess.server.exports {
			nameData := make([]byte, 4+len(exp.Name))
			binary.BigEndian.PutUint32(nameData[0:4], uint32(len(exp.Name)))
			copy(nameData[4:], exp.Name)
			if err := sess.sendOptionReply(optType, nbdRepServer, nameData); err != nil {
				return false, false, err
			}
		}
		return false, false, sess.sendOptionReply(optType, nbdRepAck, nil)

	case nbdOptAbort:
		return false, true, sess.sendOptionReply(optType, nbdRepAck, nil)

	default:
		return false, false, sess.sendOptionReply(optType, nbdRepErrUnsup, nil)
	}
}

func (sess *session) sendOptionReply(option, replyType uint32, data []byte) error {
	reply := make([]byte, 20+len(data))
	binary.BigEndian.PutUint64(reply[0:8], nbdReplyMagic)
	binary.BigEndian.PutUint32(reply[8:12], option)
	binary.BigEndian.PutUint32(reply[12:16], replyType)
	binary.BigEndian.PutUint32(reply[16:20], uint32(len(data)))
	copy(reply[20:], data)
	_, err := sess.conn.Write(reply)
	return err
}

func (sess *session) sendExportInfo(option uint32) error {
	infoExport := make([]byte, 12)
	binary.BigEndian.PutUint16(infoExport[0:2], nbdInfoExport)
	binary.BigEndian.PutUint64(infoExport[2:10], uint64(sess.export.Size))
	binary.BigEndian.PutUint16(infoExport[10:12], exportFlags)
	if err := sess.sendOptionReply(option, nbdRepInfo, infoExport); err != nil {
		return err
	}

	blockInfo := make([]byte, 14)
	binary.BigEndian.PutUint16(blockInfo[0:2], nbdInfoBlockSize)
	binary.BigEndian.PutUint32(blockInfo[2:6], 1)
	binary.BigEndian.PutUint32(blockInfo[6:10], defaultBlockSize)
	binary.BigEndian.PutUint32(blockInfo[10:14], maxPayload)
	if err := sess.sendOptionReply(option, nbdRepInfo, blockInfo); err != nil {
		return err
	}

	return sess.sendOptionReply(option, nbdRepAck, nil)
}

func (sess *session) sendOldstyleExportInfo() error {
	respLen := 10
	if !sess.noZeroes {
		respLen = 134
	}

	resp := make([]byte, respLen)
	binary.BigEndian.PutUint64(resp[0:8], uint64(sess.export.Size))
	binary.BigEndian.PutUint16(resp[8:10], exportFlags)

	_, err := sess.conn.Write(resp)
	return err
}

func (sess *session) transmit() error {
	header := make([]byte, 28)
	exp := sess.export

	sess.log.Debug("transmission", "export", exp.Name, "bytes", exp.Size)

	for {
		if _, err := io.ReadFull(sess.conn, header); err != nil {
			return err
		}

		if magic := binary.BigEndian.Uint32(header[0:4]); magic != nbdRequestMagic {
			return fmt.Errorf("bad request magic %x: %w", magic, ErrProtocol)
		}

		cmdType := binary.BigEndian.Uint16(header[6:8])
		handle := header[8:16]
		offset := binary.BigEndian.Uint64(header[16:24])
		length := binary.BigEndian.Uint32(header[24:28])

		var err error
		switch cmdType {
		case nbdCmdRead:
			err = sess.handleRead(handle, offset, length)
		case nbdCmdWrite:
			if _, err = io.CopyN(io.Discard, sess.conn, int64(length)); err == nil {
				err = sess.sendReply(handle, nbdErrPerm, nil)
			}
		case nbdCmdTrim:
			err = sess.sendReply(handle, nbdErrPerm, nil)
		case nbdCmdFlush:
			err = sess.sendReply(handle, nbdErrNone, nil)
		case nbdCmdDisc:
			sess.log.Debug("client disconnected")
			return nil
		default:
			sess.log.Warn("unknown command", "command", cmdType)
			err = sess.sendReply(handle, nbdErrInval, nil)
		}
		if err != nil {
			return err
		}
	}
}

func (sess *session) handleRead(handle []byte, offset uint64, length uint32) error {
	exp := sess.export

	if length > maxPayload || offset+uint64(length) > uint64(exp.Size) {
		return sess.sendReply(handle, nbdErrInval, nil)
	}

	data := make([]byte, length)
	n, err := exp.Reader.ReadAt(data, int64(offset))
	if err != nil && err != io.EOF {
		sess.log.Warn("read failed", "offset", offset, "length", length, "error", err)
		return sess.sendReply(handle, nbdErrIO, nil)
	}
	clear(data[n:])

	return sess.sendReply(handle, nbdErrNone, data)
}

func (sess *session) sendReply(handle []byte, errCode uint32, data []byte) error {
	reply := make([]byte, 16+len(data))
	binary.BigEndian.PutUint32(reply[0:4], nbdReplyMagicSimple)
	binary.BigEndian.PutUint32(reply[4:8], errCode)
	copy(reply[8:16], handle)
	copy(reply[16:], data)
	_, err := sess.conn.Write(reply)
	return err
}
