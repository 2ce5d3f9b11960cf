package base

import (
	"encoding/binary"
	"io"
	"net"
	"time"
)

const headerSize = 20

// writeFrame writes a frame to the connection with the format:
// - 8 bytes: shardId (uint64, big endian)
// - 8 bytes: requestID (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn net.Conn, shardID uint64, requestID uint64, data []byte) error {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint64(header[:8], shardID)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer.
// If the buffer is too small, it allocates a new one for the data. Once the
// header arrived, the rest of the frame has to arrive within timeout (if
// positive).
func readFrame(conn net.Conn, buf []byte, timeout time.Duration) (uint64, uint64, []byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return 0, 0, nil, err
	}

	shardID := binary.BigEndian.Uint64(header[:8])
	requestID := binary.BigEndian.Uint64(header[8:16])
	contentLength := int(binary.BigEndian.Uint32(header[16:20]))

	if contentLength == 0 {
		return shardID, requestID, []byte{}, nil
	}

	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, 0, nil, err
		}
	}

	if len(buf) < contentLength {
		buf = make([]byte, contentLength)
	}
	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return 0, 0, nil, err
	}
	return shardID, requestID, buf[:contentLength], nil
}
