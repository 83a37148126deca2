// Command coap-server runs a standalone CoAP CORE endpoint: a UDP
// listener, a small resource tree with one discoverable/observable
// demo resource, and content-negotiated JSON/CBOR responses, driven by
// the github.com/arcemit/coap package's cooperative scheduler.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	coap "github.com/arcemit/coap"
	"github.com/arcemit/coap/contentformat"
	"github.com/arcemit/coap/event"
	"github.com/arcemit/coap/message"
	"github.com/arcemit/coap/message/codes"
	coapnet "github.com/arcemit/coap/net"
	"github.com/arcemit/coap/pathfold"
	"github.com/arcemit/coap/resource"
)

var (
	bindAddr   = flag.String("bind-addr", ":5683", "The UDP address to listen for CoAP on")
	keepAlive  = flag.Duration("keepalive", 30*time.Second, "Ping idle sessions after this long of inactivity (0 disables)")
	blockwise  = flag.Bool("blockwise", true, "Enable block-wise transfer for large request/response bodies")
	maxBlockSZ = flag.Int("max-block-size", 1024, "Largest Block1/Block2 chunk size in bytes (rounded up to a valid SZX)")
)

// logrusAdapter satisfies coap.Logger with logrus, the way the teacher's
// own Logger plumbing (coap_http.go) lets any Printf-shaped sink in.
type logrusAdapter struct{}

func (logrusAdapter) Printf(format string, v ...interface{}) { logrus.Infof(format, v...) }

func main() {
	flag.Parse()

	addr, err := net.ResolveUDPAddr("udp", *bindAddr)
	if err != nil {
		logrus.WithError(err).Panicf("invalid bind address %s", *bindAddr)
	}
	udpConn, err := net.ListenUDP("udp", addr)
	if err != nil {
		logrus.WithError(err).Panicf("failed to listen on %s", *bindAddr)
	}

	registry := buildRegistry()

	cfg := coap.NewConfig(
		coap.WithLogger(logrusAdapter{}),
		coap.WithKeepAlive(*keepAlive),
		coap.WithBlockwise(*blockwise, message.SZXForSize(*maxBlockSZ), 1<<20),
		coap.WithHandlers(coap.Handlers{
			OnError: func(err error) { logrus.WithError(err).Warn("coap error") },
			OnEvent: func(sessionID uint64, ev event.SessionEvent) {
				logrus.WithField("session", sessionID).Infof("session event: %v", ev)
			},
		}),
	)

	driver := coapnet.NewPortableDriver(20 * time.Millisecond)
	ctx := coap.NewContext(cfg, driver, registry)
	// PortableDriver polls Recv directly and never needs a raw fd (that's
	// only PosixDriver's concern, see net.FDFromConn), so -1 is correct here.
	ctx.AddSocket(coapnet.NewSocket(coapnet.KindUDP, udpConn.LocalAddr(), -1,
		func(dst net.Addr, b []byte) (int, error) { return udpConn.WriteTo(b, dst) },
		udpRecvFunc(udpConn),
	))

	logrus.Infof("Listening for CoAP on udp/%s (blockwise=%v keepalive=%v)", *bindAddr, *blockwise, *keepAlive)

	done := make(chan struct{})
	go runLoop(ctx, done)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	close(done)
	_ = udpConn.Close()
}

func runLoop(ctx *coap.Context, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		if _, err := ctx.Process(coapnet.IOWait); err != nil {
			logrus.WithError(err).Warn("process iteration failed")
		}
	}
}

// udpRecvFunc adapts a *net.UDPConn to the non-blocking-ish RecvFunc
// contract: SetReadDeadline keeps a ready-but-empty read from stalling
// the scheduler past the driver's own poll interval.
func udpRecvFunc(conn *net.UDPConn) coapnet.RecvFunc {
	buf := make([]byte, 64*1024)
	return func() (int, coapnet.Packet, error) {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return 0, coapnet.Packet{}, nil
			}
			return 0, coapnet.Packet{}, err
		}
		pkt := coapnet.Packet{Data: append([]byte(nil), buf[:n]...), From: addr}
		return n, pkt, nil
	}
}

// buildRegistry wires a single demo resource plus the content-negotiated
// and path-folded proxy dispatch helpers from gateway.go, so this binary
// exercises contentformat and pathfold instead of leaving them unwired.
func buildRegistry() *resource.Registry {
	reg := resource.NewRegistry()

	codec, err := contentformat.New(map[string]int{"time": 1}, true)
	if err != nil {
		logrus.WithError(err).Panicf("failed to build content codec")
	}

	timeResource := &resource.Resource{
		Path:         "/time",
		Observable:   true,
		Discoverable: true,
		Attributes:   []resource.Attribute{{Key: "rt", Value: "clock"}},
		Handlers: map[codes.Code]resource.HandlerFunc{
			codes.GET: coap.NegotiateContentFormat(codec, message.AppJSON, handleTime),
		},
	}
	reg.Register(timeResource)

	folder, err := pathfold.New(map[string]string{"7": "/legacy/clock"})
	if err != nil {
		logrus.WithError(err).Panicf("failed to build path folder")
	}
	reg.SetProxyHandler(coap.ProxyViaPathFold(folder, func(longPath string, req *message.Message) (*message.Message, error) {
		if longPath != "/legacy/clock" {
			return nil, nil // decline; registry falls through to 4.04
		}
		return handleTime(req)
	}))

	return reg
}

func handleTime(req *message.Message) (*message.Message, error) {
	body := []byte(`{"time":"` + time.Now().UTC().Format(time.RFC3339) + `"}`)
	var opts message.Options
	opts = opts.Set(message.MaxAge, message.EncodeUint(1))
	return &message.Message{Code: codes.Content, Options: opts, Payload: body}, nil
}
