package filetransfer

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Clouded-Sabre/rudp/lib"
)

func TestFileTransferRoundTrip(t *testing.T) {
	core, err := lib.NewRudpCore(lib.DefaultRudpCoreConfig(), nil)
	if err != nil {
		t.Fatalf("NewRudpCore failed: %v", err)
	}

	content := make([]byte, 5000)
	for i := range content {
		content[i] = byte(i * 7 % 256)
	}

	inputDir := t.TempDir()
	outputDir := t.TempDir()
	inputPath := filepath.Join(inputDir, "input.bin")
	if err := os.WriteFile(inputPath, content, 0644); err != nil {
		t.Fatalf("writing input file: %v", err)
	}

	listener, err := core.Listen(0, nil)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer listener.Free()
	port := listener.LocalAddr().(*net.UDPAddr).Port

	type result struct {
		path   string
		n      int
		digest string
		err    error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		defer conn.Free()
		path, n, digest, err := ReceiveFile(conn, outputDir)
		resultCh <- result{path: path, n: n, digest: digest, err: err}
	}()

	conn, err := core.Dial("127.0.0.1", port, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Free()

	sent, err := SendFile(conn, inputPath, "copy.bin")
	if err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}
	if sent != len(content) {
		t.Fatalf("SendFile sent %d bytes, want %d", sent, len(content))
	}

	var res result
	select {
	case res = <-resultCh:
	case <-time.After(30 * time.Second):
		t.Fatal("receive timed out")
	}
	if res.err != nil {
		t.Fatalf("ReceiveFile failed: %v", res.err)
	}
	if res.n != len(content) {
		t.Fatalf("received %d bytes, want %d", res.n, len(content))
	}
	if filepath.Base(res.path) != "copy.bin" {
		t.Errorf("stored file = %q, want copy.bin", res.path)
	}

	written, err := os.ReadFile(res.path)
	if err != nil {
		t.Fatalf("reading received file: %v", err)
	}
	if !bytes.Equal(written, content) {
		t.Fatal("received file differs from the original")
	}

	// end-to-end digest check: what landed on disk hashes like the source
	wantDigest, err := FileDigest(inputPath)
	if err != nil {
		t.Fatalf("FileDigest failed: %v", err)
	}
	if res.digest != wantDigest {
		t.Errorf("digest = %s, want %s", res.digest, wantDigest)
	}
}

func TestFileDigestKnownValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abc.txt")
	if err := os.WriteFile(path, []byte("abc"), 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	digest, err := FileDigest(path)
	if err != nil {
		t.Fatalf("FileDigest failed: %v", err)
	}
	if digest != "900150983cd24fb0d6963f7d28e17f72" {
		t.Errorf("MD5(abc) = %s", digest)
	}
}
