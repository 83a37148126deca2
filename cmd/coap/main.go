// Command coap is a curl-like CoAP client: it sends one request built
// from flags against a coap://host:port/path target, prints the
// response, and exits. It talks the same github.com/arcemit/coap
// protocol stack as cmd/coap-server. Passing -c2j or -j2c instead runs a
// local JSON<->CBOR conversion on the -d payload with no network
// involved, the same conversion the teacher's standalone jc tool did.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	coap "github.com/arcemit/coap"
	"github.com/arcemit/coap/contentformat"
	"github.com/arcemit/coap/event"
	"github.com/arcemit/coap/message"
	"github.com/arcemit/coap/message/codes"
	coapnet "github.com/arcemit/coap/net"
)

var (
	flagMethod     string
	flagData       string
	flagVerbose    bool
	flagTimeout    = flag.Duration("timeout", 5*time.Second, "How long to wait for a response before giving up")
	flagCBORToJSON = flag.Bool("c2j", false, "Local mode: convert the -d payload from CBOR to JSON on stdout instead of sending a request")
	flagJSONToCBOR = flag.Bool("j2c", false, "Local mode: convert the -d payload from JSON to CBOR on stdout instead of sending a request")
)

func init() {
	flag.StringVar(&flagMethod, "request", "GET", "CoAP method: GET, POST, PUT, DELETE, FETCH, PATCH, IPATCH")
	flag.StringVar(&flagMethod, "X", "GET", "CoAP method (shorthand of --request)")
	flag.StringVar(&flagData, "data", "", "Request payload, or -c2j/-j2c conversion input. Prefix with @ to read from a file, or use - to read stdin.")
	flag.StringVar(&flagData, "d", "", "Request payload (shorthand of --data)")
	flag.BoolVar(&flagVerbose, "verbose", false, "Verbose mode")
	flag.BoolVar(&flagVerbose, "v", false, "Verbose mode (shorthand of --verbose)")
}

func methodCode(name string) (codes.Code, error) {
	switch strings.ToUpper(name) {
	case "GET":
		return codes.GET, nil
	case "POST":
		return codes.POST, nil
	case "PUT":
		return codes.PUT, nil
	case "DELETE":
		return codes.DELETE, nil
	case "FETCH":
		return codes.FETCH, nil
	case "PATCH":
		return codes.PATCH, nil
	case "IPATCH":
		return codes.IPATCH, nil
	default:
		return 0, fmt.Errorf("unrecognized method %q", name)
	}
}

func readPayload(flagData string) ([]byte, error) {
	switch {
	case flagData == "":
		return nil, nil
	case flagData == "-":
		return ioutil.ReadAll(os.Stdin)
	case strings.HasPrefix(flagData, "@"):
		f, err := os.Open(flagData[1:])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ioutil.ReadAll(f)
	default:
		return []byte(flagData), nil
	}
}

// runConvert implements the -c2j/-j2c local conversion modes: no session,
// no driver, just a Codec over the -d payload, the same shape as the
// teacher's standalone jc tool folded into this one.
func runConvert(cborToJSON bool, data string) error {
	payload, err := readPayload(data)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	codec, err := contentformat.New(nil, true)
	if err != nil {
		return fmt.Errorf("building codec: %w", err)
	}
	var out []byte
	if cborToJSON {
		out, err = codec.CBORToJSON(bytes.NewReader(payload))
	} else {
		out, err = codec.JSONToCBOR(bytes.NewReader(payload))
	}
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of coap:\n")
		flag.PrintDefaults()
		fmt.Println("Example:            ./coap -X POST -d '{}' coap://localhost:5683/time")
		fmt.Println("Example (stdin):    echo '{}' | ./coap -X POST -d '-' coap://localhost:5683/time")
		fmt.Println("Example (convert):  ./coap -j2c -d '{\"hello\":\"world\"}' > out.cbor")
		fmt.Println("Example (convert):  ./coap -c2j -d '@out.cbor'")
	}
	flag.Parse()

	if *flagCBORToJSON || *flagJSONToCBOR {
		if err := runConvert(*flagCBORToJSON, flagData); err != nil {
			logrus.WithError(err).Panicf("conversion failed")
		}
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	target, err := url.Parse(flag.Arg(0))
	if err != nil {
		logrus.WithError(err).Panicf("invalid target URL")
	}
	code, err := methodCode(flagMethod)
	if err != nil {
		logrus.WithError(err).Panicf("invalid method")
	}
	payload, err := readPayload(flagData)
	if err != nil {
		logrus.WithError(err).Panicf("reading request payload")
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", target.Host)
	if err != nil {
		logrus.WithError(err).Panicf("resolving %s", target.Host)
	}
	localConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		logrus.WithError(err).Panicf("failed to open a local UDP socket")
	}
	defer localConn.Close()

	cfg := coap.NewConfig()
	driver := coapnet.NewPortableDriver(10 * time.Millisecond)
	ctx := coap.NewContext(cfg, driver, nil)
	ctx.AddSocket(coapnet.NewSocket(coapnet.KindUDP, localConn.LocalAddr(), -1,
		func(dst net.Addr, b []byte) (int, error) { return localConn.WriteTo(b, dst) },
		clientRecvFunc(localConn),
	))

	peer := coapnet.PeerAddr{Kind: coapnet.KindUDP, Remote: remoteAddr}
	session := ctx.Session(coapnet.KindUDP, peer)

	var opts message.Options
	opts = opts.SetPath(target.Path)
	req := &message.Message{Type: message.Confirmable, Code: code, Options: opts, Payload: payload}
	if flagVerbose {
		fmt.Fprintf(os.Stderr, "> %s %s (%d bytes)\n", flagMethod, target.Path, len(payload))
	}

	done := make(chan *message.Message, 1)
	cfg.Handlers.OnResponse = func(_ coap.SendTicket, resp *message.Message) {
		select {
		case done <- resp:
		default:
		}
	}
	cfg.Handlers.OnNACK = func(_ coap.SendTicket, reason event.NackReason) {
		logrus.Errorf("request failed: %s", reason)
		os.Exit(1)
	}

	if _, err := ctx.Send(session, req); err != nil {
		logrus.WithError(err).Panicf("sending request")
	}

	deadline := time.Now().Add(*flagTimeout)
	for {
		select {
		case resp := <-done:
			printResponse(resp)
			return
		default:
		}
		if time.Now().After(deadline) {
			logrus.Panicf("timed out waiting for a response after %s", *flagTimeout)
		}
		if _, err := ctx.Process(50 * time.Millisecond); err != nil {
			logrus.WithError(err).Warn("process iteration failed")
		}
	}
}

func clientRecvFunc(conn *net.UDPConn) coapnet.RecvFunc {
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
		return n, coapnet.Packet{Data: append([]byte(nil), buf[:n]...), From: addr}, nil
	}
}

func printResponse(resp *message.Message) {
	if flagVerbose {
		fmt.Fprintf(os.Stderr, "< %s\n", resp.Code)
	}
	var out io.Writer = os.Stdout
	_, _ = out.Write(bytes.TrimRight(resp.Payload, "\n"))
	fmt.Println()
}
