package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/Clouded-Sabre/rudp/config"
	"github.com/Clouded-Sabre/rudp/filetransfer"
	"github.com/Clouded-Sabre/rudp/lib"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	chatMode := flag.Bool("chat", false, "Interactive chat mode instead of file transfer")
	lossRate := flag.Float64("loss", 0, "Simulated ingress drop probability (0.0-1.0)")
	flag.Parse()

	if *lossRate < 0 || *lossRate > 1 {
		log.Fatalln("Invalid loss rate: must be between 0.0 and 1.0")
	}

	var err error
	config.AppConfig, err = config.ReadConfig("config.yaml")
	if err != nil {
		log.Fatalln("Configuration file error:", err)
	}

	tracer := lib.OpenRoleTracer("server")
	defer tracer.Close()

	core, err := lib.NewRudpCore(&lib.RudpCoreConfig{
		PayloadPoolSize:      config.AppConfig.PayloadPoolSize,
		PoolDebug:            config.AppConfig.PoolDebug,
		ProcessTimeThreshold: config.AppConfig.ProcessTimeThreshold,
		CaptureFile:          config.AppConfig.CaptureFile,
	}, tracer)
	if err != nil {
		log.Fatalln(err)
	}
	defer core.Close()

	listener, err := core.Listen(*port, connConfig(*lossRate))
	if err != nil {
		log.Fatalln("Listen error:", err)
	}
	defer listener.Free()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if err == io.EOF {
				log.Println("Listening socket failed, server shutting down")
				return
			}
			log.Println("Accept error:", err)
			continue
		}
		log.Printf("New connection from %s\n", conn.RemoteAddr())

		if *chatMode {
			runChat(conn)
		} else {
			handleFileTransfer(conn)
		}

		conn.Close()
		conn.Free()
	}
}

func connConfig(lossRate float64) *lib.ConnectionConfig {
	if lossRate == 0 {
		lossRate = config.AppConfig.LossRate
	}
	return &lib.ConnectionConfig{
		WindowSize:     config.AppConfig.WindowSize,
		RTO:            time.Duration(config.AppConfig.RTOms) * time.Millisecond,
		MaxRetries:     config.AppConfig.MaxRetries,
		RecvBufferSize: config.AppConfig.RecvBufferSize,
		LossRate:       lossRate,
	}
}

func handleFileTransfer(conn *lib.Connection) {
	filename, n, digest, err := filetransfer.ReceiveFile(conn, ".")
	if err != nil {
		log.Println("File transfer failed:", err)
		return
	}
	log.Printf("Received %d bytes into '%s'\n", n, filename)
	fmt.Printf("MD5: %s\n", digest)
}

func runChat(conn *lib.Connection) {
	fmt.Println("[CHAT] Client connected, starting interactive chat session")

	lines := readStdinLines()
	buf := make([]byte, 4096)

	for {
		select {
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				fmt.Println("[CHAT] Ending chat session...")
				return
			}
			if len(line) > 0 {
				fmt.Printf("[YOU]: %s\n", line)
				if _, err := conn.Send([]byte(line)); err != nil {
					log.Println("Failed to send message:", err)
					return
				}
			}
		default:
		}

		n, err := conn.Recv(buf)
		if err != nil {
			fmt.Println("[CHAT] Client disconnected")
			return
		}
		if n > 0 {
			msg := string(buf[:n])
			if msg == "/quit" {
				fmt.Println("[CHAT] Client requested to quit")
				return
			}
			fmt.Printf("[Client]: %s\n", msg)
		}
	}
}

// readStdinLines feeds terminal input into a channel so the chat loop can
// poll it between connection reads.
func readStdinLines() <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
