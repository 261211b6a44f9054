package lib

import (
	"log"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

type RudpCoreConfig struct {
	PayloadPoolSize      int    // how many packet payload chunks in the pool
	PoolDebug            bool   // ring pool debug setting
	ProcessTimeThreshold int    // chunk processing time threshold in ms
	CaptureFile          string // when set, record all datagrams to this pcap file
}

func DefaultRudpCoreConfig() *RudpCoreConfig {
	return &RudpCoreConfig{
		PayloadPoolSize:      DefaultPoolSize,
		PoolDebug:            false,
		ProcessTimeThreshold: 10,
	}
}

// RudpCore owns the resources shared by all connections of one process: the
// payload chunk pool and the optional packet capture.
type RudpCore struct {
	config  *RudpCoreConfig
	tracer  *Tracer
	capture *Capture
}

func NewRudpCore(coreConfig *RudpCoreConfig, tracer *Tracer) (*RudpCore, error) {
	if coreConfig == nil {
		coreConfig = DefaultRudpCoreConfig()
	}

	rp.Debug = coreConfig.PoolDebug
	if Pool == nil {
		Pool = rp.NewRingPool("RUDP: ", coreConfig.PayloadPoolSize, NewPayload, MaxDataSize)
		Pool.Debug = coreConfig.PoolDebug
		Pool.ProcessTimeThreshold = time.Duration(coreConfig.ProcessTimeThreshold) * time.Millisecond
	}

	var (
		capture *Capture
		err     error
	)
	if coreConfig.CaptureFile != "" {
		capture, err = OpenCapture(coreConfig.CaptureFile)
		if err != nil {
			return nil, err
		}
		log.Println("Recording datagrams to", coreConfig.CaptureFile)
	}

	log.Println("RUDP protocol core started")

	return &RudpCore{
		config:  coreConfig,
		tracer:  tracer,
		capture: capture,
	}, nil
}

// Dial opens a connection to host:port and completes the three-way handshake.
func (r *RudpCore) Dial(host string, port int, connConfig *ConnectionConfig) (*Connection, error) {
	conn, err := newConnection(connConfig, r.tracer, r.capture)
	if err != nil {
		return nil, err
	}
	if err := conn.connect(host, port); err != nil {
		return nil, err
	}
	return conn, nil
}

// Listen binds port and returns a connection in LISTEN state. Accept on the
// returned connection yields established connections.
func (r *RudpCore) Listen(port int, connConfig *ConnectionConfig) (*Connection, error) {
	conn, err := newConnection(connConfig, r.tracer, r.capture)
	if err != nil {
		return nil, err
	}
	if err := conn.listen(port); err != nil {
		return nil, err
	}
	return conn, nil
}

func (r *RudpCore) Close() error {
	r.capture.Close()
	log.Println("RUDP core closed gracefully.")
	return nil
}
