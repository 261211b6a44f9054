package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Clouded-Sabre/rudp/config"
	"github.com/Clouded-Sabre/rudp/filetransfer"
	"github.com/Clouded-Sabre/rudp/lib"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Server host")
	port := flag.Int("port", 8080, "Server port")
	chatMode := flag.Bool("chat", false, "Interactive chat mode instead of file transfer")
	inputFile := flag.String("in", "", "File to send")
	outputFile := flag.String("out", "", "Name for the file on the server (defaults to the input name)")
	lossRate := flag.Float64("loss", 0, "Simulated ingress drop probability (0.0-1.0)")
	flag.Parse()

	if *lossRate < 0 || *lossRate > 1 {
		log.Fatalln("Invalid loss rate: must be between 0.0 and 1.0")
	}
	if !*chatMode && *inputFile == "" {
		log.Fatalln("File transfer mode requires -in (and optionally -out)")
	}

	var err error
	config.AppConfig, err = config.ReadConfig("config.yaml")
	if err != nil {
		log.Fatalln("Configuration file error:", err)
	}

	tracer := lib.OpenRoleTracer("client")
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

	conn, err := core.Dial(*host, *port, connConfig(*lossRate))
	if err != nil {
		log.Fatalln("Failed to connect to server:", err)
	}
	defer conn.Free()

	if *chatMode {
		runChat(conn)
	} else {
		name := *outputFile
		if name == "" {
			name = filepath.Base(*inputFile)
		}
		fmt.Printf("Sending file '%s' to be saved as '%s' on server\n", *inputFile, name)
		n, err := filetransfer.SendFile(conn, *inputFile, name)
		if err != nil {
			log.Fatalln("Failed to send file:", err)
		}
		log.Printf("Sent %d bytes\n", n)
	}

	conn.Close()
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

func runChat(conn *lib.Connection) {
	fmt.Println("Type messages to send. Type '/quit' to exit.")

	lines := readStdinLines()
	buf := make([]byte, 4096)

	for {
		select {
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				fmt.Println("[CHAT] Initiating chat termination...")
				conn.Send([]byte("/quit"))
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
			fmt.Println("[CHAT] Server disconnected")
			return
		}
		if n > 0 {
			fmt.Printf("[Server]: %s\n", string(buf[:n]))
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
