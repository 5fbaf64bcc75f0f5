package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ws "github.com/coder/websocket"
)

// LocalSource feeds a Mirror from an in-process broker.
type LocalSource[T Record] struct {
	Broker      *Broker
	HouseholdID int64
	Load        func(ctx context.Context, entity Entity) ([]T, error)
}

func (s LocalSource[T]) Subscribe(_ context.Context, entity Entity) (Stream, error) {
	return s.Broker.Subscribe(s.HouseholdID, entity), nil
}

func (s LocalSource[T]) Snapshot(ctx context.Context, entity Entity) ([]T, error) {
	return s.Load(ctx, entity)
}

// HTTPSource feeds a Mirror from a remote server: snapshots come from the
// JSON API and live events from the /ws endpoint.
type HTTPSource[T Record] struct {
	baseURL    *url.URL
	cookieName string
	token      string
	client     *http.Client
}

func NewHTTPSource[T Record](baseURL, cookieName, token string, client *http.Client) (*HTTPSource[T], error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource[T]{baseURL: u, cookieName: cookieName, token: token, client: client}, nil
}

var snapshotPaths = map[Entity]string{
	EntityTasks:         "/api/tasks",
	EntityShoppingItems: "/api/shopping-items",
	EntityChatMessages:  "/api/chat",
}

func (s *HTTPSource[T]) header() http.Header {
	h := http.Header{}
	h.Set("Cookie", (&http.Cookie{Name: s.cookieName, Value: s.token}).String())
	return h
}

func (s *HTTPSource[T]) Snapshot(ctx context.Context, entity Entity) ([]T, error) {
	path, ok := snapshotPaths[entity]
	if !ok {
		return nil, fmt.Errorf("no snapshot endpoint for %q", entity)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL.String()+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header = s.header()

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch snapshot: status %d", resp.StatusCode)
	}

	var items []T
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return items, nil
}

func (s *HTTPSource[T]) Subscribe(ctx context.Context, entity Entity) (Stream, error) {
	u := *s.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"entities": {string(entity)}}.Encode()

	conn, _, err := ws.Dial(ctx, u.String(), &ws.DialOptions{HTTPClient: s.client, HTTPHeader: s.header()})
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *ws.Conn
}

func (s *wsStream) Next(ctx context.Context) (Event, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		if ws.CloseStatus(err) == StatusLagged {
			return Event{}, ErrLagged
		}
		return Event{}, err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func (s *wsStream) Close() error {
	return s.conn.Close(ws.StatusNormalClosure, "")
}
