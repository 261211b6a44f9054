// Package filetransfer layers a simple file framing convention on top of the
// reliable byte stream: one byte of filename length, the filename, a 32-bit
// big-endian file size, then the raw bytes.
package filetransfer

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/Clouded-Sabre/rudp/lib"
)

// StallTimeout bounds how long the receive side waits without any progress
// before declaring the transfer dead.
const StallTimeout = 10 * time.Second

// SendFile streams localPath to the peer under remoteName. Returns the number
// of content bytes sent.
func SendFile(conn *lib.Connection, localPath, remoteName string) (int, error) {
	if len(remoteName) > 255 {
		return 0, errors.Errorf("filename too long (%d bytes, max 255)", len(remoteName))
	}

	file, err := os.Open(localPath)
	if err != nil {
		return 0, errors.Wrap(err, "opening input file")
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stating input file")
	}
	fileSize := info.Size()

	// filename length, then the filename itself
	if _, err := conn.Send([]byte{byte(len(remoteName))}); err != nil {
		return 0, errors.Wrap(err, "sending filename length")
	}
	if _, err := conn.Send([]byte(remoteName)); err != nil {
		return 0, errors.Wrap(err, "sending filename")
	}

	// file size prefix
	var sizePrefix [4]byte
	binary.BigEndian.PutUint32(sizePrefix[:], uint32(fileSize))
	if _, err := conn.Send(sizePrefix[:]); err != nil {
		return 0, errors.Wrap(err, "sending file size")
	}

	log.Printf("Sending file '%s' as '%s', size=%d bytes\n", localPath, remoteName, fileSize)

	buffer := make([]byte, lib.MaxDataSize)
	totalSent := 0
	for int64(totalSent) < fileSize {
		readBytes, err := file.Read(buffer)
		if readBytes > 0 {
			if _, err := conn.Send(buffer[:readBytes]); err != nil {
				return totalSent, errors.Wrap(err, "sending file data")
			}
			totalSent += readBytes
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return totalSent, errors.Wrap(err, "reading input file")
		}
	}

	return totalSent, nil
}

// ReceiveFile receives one framed file into dir and returns the stored path,
// the content byte count, and the MD5 digest of what was written.
func ReceiveFile(conn *lib.Connection, dir string) (string, int, string, error) {
	// filename length
	var lengthByte [1]byte
	if n := recvExact(conn, lengthByte[:], StallTimeout); n != 1 {
		return "", 0, "", errors.New("failed to receive filename length")
	}

	// filename
	nameBuf := make([]byte, lengthByte[0])
	if n := recvExact(conn, nameBuf, StallTimeout); n != len(nameBuf) {
		return "", 0, "", errors.Errorf("failed to receive filename (got %d of %d bytes)", n, len(nameBuf))
	}
	// the peer names the file; keep it inside dir
	filename := filepath.Join(dir, filepath.Base(string(nameBuf)))

	// file size
	var sizePrefix [4]byte
	if n := recvExact(conn, sizePrefix[:], StallTimeout); n != 4 {
		return "", 0, "", errors.New("failed to receive file size")
	}
	fileSize := binary.BigEndian.Uint32(sizePrefix[:])

	log.Printf("Receiving file '%s', size=%d bytes\n", filename, fileSize)

	file, err := os.Create(filename)
	if err != nil {
		return "", 0, "", errors.Wrap(err, "creating output file")
	}
	defer file.Close()

	digest := md5.New()
	out := io.MultiWriter(file, digest)

	buffer := make([]byte, lib.MaxDataSize)
	totalReceived := 0
	lastProgress := time.Now()

	for uint32(totalReceived) < fileSize {
		toReceive := int(fileSize) - totalReceived
		if toReceive > len(buffer) {
			toReceive = len(buffer)
		}

		n, err := conn.Recv(buffer[:toReceive])
		if n > 0 {
			out.Write(buffer[:n])
			totalReceived += n
			lastProgress = time.Now()
			continue
		}
		if err != nil {
			return filename, totalReceived, "", errors.Wrap(err, "receiving file data")
		}
		if time.Since(lastProgress) > StallTimeout {
			return filename, totalReceived, "", errors.Errorf("transfer stalled; received %d/%d bytes", totalReceived, fileSize)
		}
	}

	return filename, totalReceived, hex.EncodeToString(digest.Sum(nil)), nil
}

// FileDigest computes the MD5 digest of a file on disk, hex encoded.
func FileDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "opening file for digest")
	}
	defer file.Close()

	digest := md5.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", errors.Wrap(err, "hashing file")
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// recvExact reads exactly len(out) bytes, tolerating short reads, with an
// overall deadline. Returns the bytes actually read.
func recvExact(conn *lib.Connection, out []byte, overall time.Duration) int {
	got := 0
	deadline := time.Now().Add(overall)
	for got < len(out) {
		n, err := conn.Recv(out[got:])
		if n > 0 {
			got += n
			continue
		}
		if err != nil {
			break
		}
		if time.Now().After(deadline) {
			break
		}
	}
	return got
}
