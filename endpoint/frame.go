package endpoint

import (
	"encoding/binary"
	"fmt"
	"io"
)

// The data-plane wire protocol carried over a connected Endpoint's
// underlying net.Conn (the "sockets" fabric provider's active-endpoint
// connection). It is distinct from the wire package's bootstrap frames:
// this one is internal to the simulated fabric, never seen by the
// bootstrap TCP side-channel.
type opcode byte

const (
	opSend     opcode = 1 // message send; matched against the peer's posted-recv queue
	opWrite    opcode = 2 // one-sided RMA write
	opWriteAck opcode = 3 // completion ack for a signaled write
)

// sendHeaderLen: opcode(1) + context(8) + immediate(4) + length(4).
const sendHeaderLen = 1 + 8 + 4 + 4

// writeHeaderLen: opcode(1) + context(8) + ackRequested(1) + immediate(4) +
// length(4) + remoteKey(8) + targetAddr(8).
const writeHeaderLen = 1 + 8 + 1 + 4 + 4 + 8 + 8

// ackHeaderLen: opcode(1) + context(8) + success(1) + immediate(4) + length(4).
const ackHeaderLen = 1 + 8 + 1 + 4 + 4

func writeSendFrame(w io.Writer, ctx uint64, immediate uint32, payload []byte) error {
	buf := make([]byte, sendHeaderLen+len(payload))
	buf[0] = byte(opSend)
	binary.BigEndian.PutUint64(buf[1:9], ctx)
	binary.BigEndian.PutUint32(buf[9:13], immediate)
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(payload)))
	copy(buf[sendHeaderLen:], payload)
	_, err := w.Write(buf)
	return err
}

func writeWriteFrame(w io.Writer, ctx uint64, ackRequested bool, immediate uint32, remoteKey, targetAddr uint64, payload []byte) error {
	buf := make([]byte, writeHeaderLen+len(payload))
	buf[0] = byte(opWrite)
	binary.BigEndian.PutUint64(buf[1:9], ctx)
	if ackRequested {
		buf[9] = 1
	}
	binary.BigEndian.PutUint32(buf[10:14], immediate)
	binary.BigEndian.PutUint32(buf[14:18], uint32(len(payload)))
	binary.BigEndian.PutUint64(buf[18:26], remoteKey)
	binary.BigEndian.PutUint64(buf[26:34], targetAddr)
	copy(buf[writeHeaderLen:], payload)
	_, err := w.Write(buf)
	return err
}

func writeAckFrame(w io.Writer, ctx uint64, success bool, immediate, length uint32) error {
	buf := make([]byte, ackHeaderLen)
	buf[0] = byte(opWriteAck)
	binary.BigEndian.PutUint64(buf[1:9], ctx)
	if success {
		buf[9] = 1
	}
	binary.BigEndian.PutUint32(buf[10:14], immediate)
	binary.BigEndian.PutUint32(buf[14:18], length)
	_, err := w.Write(buf)
	return err
}

type sendFrame struct {
	ctx       uint64
	immediate uint32
	payload   []byte
}

func readSendFrameBody(r io.Reader) (sendFrame, error) {
	var hdr [sendHeaderLen - 1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return sendFrame{}, err
	}
	f := sendFrame{
		ctx:       binary.BigEndian.Uint64(hdr[0:8]),
		immediate: binary.BigEndian.Uint32(hdr[8:12]),
	}
	length := binary.BigEndian.Uint32(hdr[12:16])
	f.payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.payload); err != nil {
		return sendFrame{}, err
	}
	return f, nil
}

type writeFrame struct {
	ctx          uint64
	ackRequested bool
	immediate    uint32
	remoteKey    uint64
	targetAddr   uint64
	payload      []byte
}

func readWriteFrameBody(r io.Reader) (writeFrame, error) {
	var hdr [writeHeaderLen - 1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return writeFrame{}, err
	}
	f := writeFrame{
		ctx:          binary.BigEndian.Uint64(hdr[0:8]),
		ackRequested: hdr[8] == 1,
		immediate:    binary.BigEndian.Uint32(hdr[9:13]),
	}
	length := binary.BigEndian.Uint32(hdr[13:17])
	f.remoteKey = binary.BigEndian.Uint64(hdr[17:25])
	f.targetAddr = binary.BigEndian.Uint64(hdr[25:33])
	f.payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.payload); err != nil {
		return writeFrame{}, err
	}
	return f, nil
}

type ackFrame struct {
	ctx       uint64
	success   bool
	immediate uint32
	length    uint32
}

func readAckFrameBody(r io.Reader) (ackFrame, error) {
	var hdr [ackHeaderLen - 1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return ackFrame{}, err
	}
	return ackFrame{
		ctx:       binary.BigEndian.Uint64(hdr[0:8]),
		success:   hdr[8] == 1,
		immediate: binary.BigEndian.Uint32(hdr[9:13]),
		length:    binary.BigEndian.Uint32(hdr[13:17]),
	}, nil
}

func readOpcode(r io.Reader) (opcode, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	op := opcode(b[0])
	switch op {
	case opSend, opWrite, opWriteAck:
		return op, nil
	default:
		return 0, fmt.Errorf("endpoint: unknown frame opcode %d", b[0])
	}
}
