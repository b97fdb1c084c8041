// Command client drives Put/Get against any peer in a running ring.
// It opens its own reply listener first, since the owning node
// answers by dialing back to --listen rather than reusing the
// client's outbound connection, then waits out any ForwarderTo hops
// until a terminal reply arrives. Subcommands are built with
// github.com/spf13/cobra and requests are framed with internal/wire's
// binary codec.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chordkv/internal/ring"
	"chordkv/internal/wire"
)

// replyTimeout bounds how long a client waits across every hop of a
// request before giving up; generous since a healthy ring answers in
// well under a second.
const replyTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var server, listen string

	root := &cobra.Command{
		Use:   "client",
		Short: "Put or get a blob against a running ring",
	}
	root.PersistentFlags().StringVar(&server, "server", "", "address of any peer in the ring")
	root.PersistentFlags().StringVar(&listen, "listen", "127.0.0.1:0", "address this client listens on for the reply")
	root.MarkPersistentFlagRequired("server")

	root.AddCommand(newPutCmd(&server, &listen))
	root.AddCommand(newGetCmd(&server, &listen))
	return root
}

func newPutCmd(server, listen *string) *cobra.Command {
	return &cobra.Command{
		Use:   "put <name> <file>",
		Short: "store the file under the given blob name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, path := args[0], args[1]
			buf, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			return runPut(*server, *listen, name, buf)
		},
	}
}

func newGetCmd(server, listen *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <keyhex> <outfile>",
		Short: "fetch the blob stored under the given key and write it to outfile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(*server, *listen, args[0], args[1])
		},
	}
}

func runPut(server, listen, name string, buf []byte) error {
	lc, err := newListenClient(listen)
	if err != nil {
		return err
	}
	defer lc.close()

	req := wire.Message{
		Tag:       wire.TagUserPut,
		RequestID: uuid.NewString(),
		ReplyAddr: lc.addr,
		Blob:      &wire.Blob{Name: name, Buffer: buf},
	}
	logrus.WithField("request_id", req.RequestID).WithField("name", name).Info("sending put")
	if err := sendRequest(server, req); err != nil {
		return errors.Wrap(err, "send put")
	}

	reply, err := lc.awaitTerminal()
	if err != nil {
		return err
	}
	switch reply.Tag {
	case wire.TagSavedKey:
		fmt.Printf("saved as %s\n", reply.Key)
		return nil
	case wire.TagInternalServerError:
		return errors.New("server reported an internal error")
	default:
		return errors.Errorf("unexpected reply tag %s", reply.Tag)
	}
}

func runGet(server, listen, keyHex, outPath string) error {
	if _, ok := ring.ParseID(keyHex); !ok {
		return errors.Errorf("%q is not a valid hex key", keyHex)
	}

	lc, err := newListenClient(listen)
	if err != nil {
		return err
	}
	defer lc.close()

	req := wire.Message{
		Tag:       wire.TagUserGet,
		RequestID: uuid.NewString(),
		ReplyAddr: lc.addr,
		Key:       keyHex,
	}
	logrus.WithField("request_id", req.RequestID).WithField("key", keyHex).Info("sending get")
	if err := sendRequest(server, req); err != nil {
		return errors.Wrap(err, "send get")
	}

	reply, err := lc.awaitTerminal()
	if err != nil {
		return err
	}
	switch reply.Tag {
	case wire.TagRequestedFile:
		if reply.Blob == nil {
			return errors.New("server replied RequestedFile with no blob")
		}
		if err := os.WriteFile(outPath, reply.Blob.Buffer, 0o644); err != nil {
			return errors.Wrapf(err, "write %s", outPath)
		}
		fmt.Printf("wrote %s (original name %q)\n", outPath, reply.Blob.Name)
		return nil
	case wire.TagFileNotFound:
		return errors.Errorf("no blob stored under key %s", keyHex)
	case wire.TagHexConversionInvalid:
		return errors.Errorf("server rejected key %s as invalid hex", keyHex)
	case wire.TagInternalServerError:
		return errors.New("server reported an internal error")
	default:
		return errors.Errorf("unexpected reply tag %s", reply.Tag)
	}
}

// sendRequest opens one short-lived stream connection to server and
// writes req as a single frame; the reply comes back on a separate
// connection the owning node opens to ReplyAddr, not on this one
// (spec §4.7).
func sendRequest(server string, req wire.Message) error {
	conn, err := net.DialTimeout("tcp", server, 5*time.Second)
	if err != nil {
		return errors.Wrapf(err, "dial %s", server)
	}
	defer conn.Close()
	return wire.WriteFrame(conn, req)
}

// listenClient accepts the reply connections the ring dials back,
// tracking its own bound address (important when --listen asks for
// an OS-assigned port).
type listenClient struct {
	ln   net.Listener
	addr string
}

func newListenClient(listen string) (*listenClient, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", listen)
	}
	return &listenClient{ln: ln, addr: ln.Addr().String()}, nil
}

func (lc *listenClient) close() error {
	return lc.ln.Close()
}

// awaitTerminal accepts reply connections until one carries a
// terminal message tag, logging and discarding any ForwarderTo hops
// along the way (spec §4.7: "The client treats ForwarderTo as
// progress, not completion").
func (lc *listenClient) awaitTerminal() (wire.Message, error) {
	deadline := time.Now().Add(replyTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return wire.Message{}, errors.New("timed out waiting for a reply")
		}
		lc.ln.(*net.TCPListener).SetDeadline(deadline)

		conn, err := lc.ln.Accept()
		if err != nil {
			return wire.Message{}, errors.Wrap(err, "accept reply connection")
		}
		msg, err := wire.ReadFrame(bufio.NewReader(conn))
		conn.Close()
		if err != nil {
			logrus.WithError(err).Warn("dropped malformed reply frame")
			continue
		}

		if msg.Tag == wire.TagForwarderTo {
			logrus.WithField("forwarded_to", msg.Addr).Info("request forwarded")
			continue
		}
		return msg, nil
	}
}
