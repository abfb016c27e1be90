package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultSocketPath = "/tmp/shodan-ng.sock"

var (
	socketPath   string
	wsType       string
	wsLimit      int
	wsFacets     []string
	wsSocketPath string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Answer count and search requests over a websocket on a unix socket",
	Args:  cobra.NoArgs,
	Run:   runServer,
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsRequest struct {
	Type   string   `json:"type"`
	Query  string   `json:"query"`
	Limit  int      `json:"limit,omitempty"`
	Facets []string `json:"facets,omitempty"`
}

type wsResponse struct {
	Type    string          `json:"type"`
	Query   string          `json:"query"`
	Total   int64           `json:"total"`
	Facets  api.Facets      `json:"facets,omitempty"`
	Matches []record.Record `json:"matches,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// answer runs one request against client. Failures are reported inside the response.
func answer(ctx context.Context, client api.Searcher, req wsRequest) wsResponse {
	res := wsResponse{Type: req.Type, Query: strings.TrimSpace(req.Query)}

	if res.Query == "" {
		res.Error = "empty search query"
		return res
	}

	switch req.Type {
	case "count", "":
		res.Type = "count"
		cr, err := client.Count(ctx, res.Query, req.Facets)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Total, res.Facets = cr.Total, cr.Facets

	case "search":
		limit := req.Limit
		if limit == 0 {
			limit = 100
		}
		if err := validateLimit(limit, searchLimitCap); err != nil {
			res.Error = err.Error()
			return res
		}

		sr, err := client.Search(ctx, res.Query, api.SearchOptions{Limit: limit, Facets: req.Facets})
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Total, res.Facets, res.Matches = sr.Total, sr.Facets, sr.Matches

	default:
		res.Error = fmt.Sprintf("unknown request type %q (count, search)", req.Type)
	}

	return res
}

func handleConn(ctx context.Context, client api.Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Errorf("WebSocket error: %v", err)
				}
				break
			}

			var req wsRequest
			if err := json.Unmarshal(message, &req); err != nil {
				log.Errorf("Invalid request format: %v", err)
				conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"error":%q}`, "invalid request: "+err.Error())))
				continue
			}

			log.Infof("%s: %s", req.Type, req.Query)

			j, err := json.Marshal(answer(ctx, client, req))
			if err != nil {
				log.Errorf("Failed to marshal result: %v", err)
				continue
			}

			if err := conn.WriteMessage(messageType, j); err != nil {
				log.Errorf("Failed to write response: %v", err)
				break
			}
		}
	}
}

func runServer(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	client := newClient(loadConfig())

	os.RemoveAll(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		log.Fatalf("Failed to create Unix socket: %v", err)
	}
	defer listener.Close()
	os.Chmod(socketPath, 0600)

	log.Infof("listening on %s", socketPath)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handleConn(ctx, client))

	server := &http.Server{Handler: mux}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Info("server started. Press Ctrl+C to stop.")
	<-ctx.Done()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(timeoutCtx)
	os.Remove(socketPath)
}

var testWsCmd = &cobra.Command{
	Use:   "test-ws [queries...]",
	Short: "test the ws server",
	Args:  cobra.MinimumNArgs(1),
	Run:   runWsClient,
}

func runWsClient(cmd *cobra.Command, args []string) {
	dialer := &websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			return net.Dial("unix", wsSocketPath)
		},
	}

	conn, _, err := dialer.Dial("ws://unix/ws", nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	for i, query := range args {
		if len(args) > 1 {
			log.Infof("%d/%d: %s", i+1, len(args), query)
		}

		req := wsRequest{Type: wsType, Query: query, Limit: wsLimit, Facets: wsFacets}
		reqJSON, err := json.Marshal(req)
		if err != nil {
			log.Errorf("Failed to marshal request: %v", err)
			continue
		}

		if err := conn.WriteMessage(websocket.TextMessage, reqJSON); err != nil {
			log.Fatalf("Failed to send: %v", err)
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				break
			}
			log.Errorf("Error reading: %v", err)
			break
		}

		fmt.Println(string(message))
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&socketPath, "socket", "s", defaultSocketPath, "Unix socket path")

	serverCmd.AddCommand(testWsCmd)
	testWsCmd.Flags().StringVarP(&wsType, "type", "t", "count", "Request type (count, search)")
	testWsCmd.Flags().IntVarP(&wsLimit, "limit", "l", 0, "Number of search results")
	testWsCmd.Flags().StringSliceVar(&wsFacets, "facets", nil, "Facets to request")
	testWsCmd.Flags().StringVarP(&wsSocketPath, "socket", "s", defaultSocketPath, "Socket path")
}
