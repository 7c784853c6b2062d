package signaling

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/graphsync/internal/util"
	"github.com/1ureka/graphsync/internal/webrtc"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

var masterStream = Hello{Version: 8, ByteOrder: "big"}

// serve runs Accept on every websocket upgraded by a test server and
// reports its error.
func serve(t *testing.T, ctx context.Context) (string, <-chan error) {
	t.Helper()
	errs := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errs <- err
			return
		}
		link, err := Accept(ctx, conn, webrtc.Options{Label: "test"}, masterStream)
		if link != nil {
			link.Close()
		}
		errs <- err
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), errs
}

func rawDial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestAcceptRejectsOtherStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url, errs := serve(t, ctx)

	conn := rawDial(t, url)
	if err := conn.WriteJSON(message{Type: msgHello, Hello: &Hello{Version: 7, ByteOrder: "big"}}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != msgReject || !strings.Contains(msg.Reason, "version 7") {
		t.Fatalf("reply = %+v, want reject naming version 7", msg)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrRejected) {
			t.Errorf("Accept error = %v, want ErrRejected", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Accept did not return")
	}
}

func TestAcceptOffersMatchingStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url, _ := serve(t, ctx)

	conn := rawDial(t, url)
	if err := conn.WriteJSON(message{Type: msgHello, Hello: &masterStream}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == msgCandidate {
			continue
		}
		if msg.Type != msgOffer || msg.SDP == "" {
			t.Fatalf("reply = %+v, want an offer", msg)
		}
		return
	}
}

func TestDialReportsRejection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	url, _ := serve(t, ctx)

	_, err := Dial(ctx, url, webrtc.Options{Label: "test"}, Hello{Version: 8, ByteOrder: "little"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Dial error = %v, want ErrRejected", err)
	}
}

func TestGeneratePIN(t *testing.T) {
	pin := GeneratePIN(6)
	if len(pin) != 6 {
		t.Fatalf("len = %d, want 6", len(pin))
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			t.Fatalf("pin %q has a non-digit", pin)
		}
	}
}
