package websocket

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"emojiart-server/editor"
)

const joinTimeout = 10 * time.Second

type ackInvoker func(err error, payload map[string]any)

// Editors opens the live editor of a document.
type Editors interface {
	Open(ctx context.Context, id string) (*editor.Editor, error)
}

// emitter sends an event to every socket in a room.
type emitter interface {
	EmitTo(room, event string, payload any) error
}

type serverEmitter struct {
	srv *socketio.Server
}

func (e serverEmitter) EmitTo(room, event string, payload any) error {
	return e.srv.To(socketio.Room(room)).Emit(event, payload)
}

// watcher forwards one editor's events to the document room.
type watcher struct {
	editor      *editor.Editor
	users       int
	unsubscribe func()
}

// Hub relays editor change events to socket.io rooms named after document
// ids. An editor is subscribed while at least one socket is in its room.
type Hub struct {
	Server *socketio.Server

	editors Editors
	out     emitter

	mu       sync.Mutex
	watchers map[string]*watcher
}

func newHub(editors Editors, out emitter) *Hub {
	return &Hub{
		editors:  editors,
		out:      out,
		watchers: make(map[string]*watcher),
	}
}

// ActiveDocuments returns the number of connected sockets per document.
func (h *Hub) ActiveDocuments() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	docs := make(map[string]int, len(h.watchers))
	for id, w := range h.watchers {
		docs[id] = w.users
	}
	return docs
}

// join records users sockets in the room of ed and starts forwarding its
// events if nothing forwards them yet.
func (h *Hub) join(id string, ed *editor.Editor, users int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if w, ok := h.watchers[id]; ok {
		if w.editor == ed {
			w.users = users
			return
		}
		// The document was reopened with a new editor.
		w.unsubscribe()
	}

	events, unsubscribe := ed.Subscribe()
	w := &watcher{editor: ed, users: users, unsubscribe: unsubscribe}
	h.watchers[id] = w
	go h.forward(id, w, events)
}

// leave updates the socket count of a room and stops forwarding when it is
// empty.
func (h *Hub) leave(id string, remaining int) {
	h.mu.Lock()
	w, ok := h.watchers[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	if remaining > 0 {
		w.users = remaining
		h.mu.Unlock()
		return
	}
	delete(h.watchers, id)
	h.mu.Unlock()

	w.unsubscribe()
}

func (h *Hub) forward(id string, w *watcher, events <-chan editor.Event) {
	log := logrus.WithField("document_id", id)
	for ev := range events {
		if err := h.out.EmitTo(id, ev.Kind.String(), eventPayload(ev)); err != nil {
			log.WithError(err).Warn("Failed to emit document event")
		}
	}

	// The channel also closes when the editor shuts down; the next join
	// subscribes again.
	h.mu.Lock()
	if h.watchers[id] == w {
		delete(h.watchers, id)
	}
	h.mu.Unlock()
	log.Debug("Stopped forwarding document events")
}

// Close stops forwarding every document.
func (h *Hub) Close() {
	h.mu.Lock()
	watchers := h.watchers
	h.watchers = make(map[string]*watcher)
	h.mu.Unlock()

	for _, w := range watchers {
		w.unsubscribe()
	}
	if h.Server != nil {
		h.Server.Close(nil)
	}
}

func eventPayload(ev editor.Event) map[string]any {
	payload := map[string]any{"revision": ev.Revision}
	switch ev.Kind {
	case editor.DocumentChanged:
		payload["document"] = ev.Document
	case editor.FetchStateChanged:
		payload["status"] = ev.State.Status.String()
		if ev.State.Locator != "" {
			payload["locator"] = ev.State.Locator
		}
	case editor.BackgroundImageChanged:
		payload["hasImage"] = ev.Image != nil
		if ev.Image != nil {
			payload["format"] = ev.Image.Format
			payload["width"] = ev.Image.Width
			payload["height"] = ev.Image.Height
		}
	}
	return payload
}

func viewPayload(v editor.View) map[string]any {
	return map[string]any{
		"revision":           v.Revision,
		"document":           v.Document,
		"status":             v.FetchState.Status.String(),
		"locator":            v.FetchState.Locator,
		"canUndo":            v.CanUndo,
		"canRedo":            v.CanRedo,
		"hasBackgroundImage": v.HasImage,
	}
}

func SetupSocketIO(editors Editors) *Hub {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin: []any{
			localhostOrigin,
		},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)
	hub := newHub(editors, serverEmitter{srv: srv})
	hub.Server = srv

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		me := socket.Id()
		log := logrus.WithField("socket_id", me)
		log.Debug("Socket connected")

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("join-document", func(datas ...any) {
			ack, args := extractAck(datas)
			documentID := ""
			if len(args) > 0 {
				documentID, _ = args[0].(string)
			}
			if documentID == "" {
				err := fmt.Errorf("document id is required")
				respondWithAck(socket, ack, "join-document-ack", map[string]any{
					"status": "error",
					"error":  err.Error(),
				}, err)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
			ed, err := hub.editors.Open(ctx, documentID)
			cancel()
			if err != nil {
				log.WithField("document_id", documentID).WithError(err).Warn("Failed to open document")
				respondWithAck(socket, ack, "join-document-ack", map[string]any{
					"status": "error",
					"error":  err.Error(),
				}, err)
				return
			}

			room := socketio.Room(documentID)
			socket.Join(room)
			log.WithField("document_id", documentID).Info("Socket joined document")

			srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, fetchErr error) {
				if fetchErr != nil {
					respondWithAck(socket, ack, "join-document-ack", map[string]any{
						"status": "error",
						"error":  fetchErr.Error(),
					}, fetchErr)
					return
				}

				hub.join(documentID, ed, len(users))

				userIDs := make([]socketio.SocketId, 0, len(users))
				for _, user := range users {
					userIDs = append(userIDs, user.Id())
				}
				srv.In(room).Emit("document-user-change", userIDs)

				respondWithAck(socket, ack, "join-document-ack", map[string]any{
					"status":     "ok",
					"user_count": len(users),
					"view":       viewPayload(ed.View()),
				}, nil)
			})
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("server-broadcast", func(datas ...any) {
			handleBroadcast(socket, datas, false)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("server-volatile-broadcast", func(datas ...any) {
			handleBroadcast(socket, datas, true)
		})

		socket.On("disconnecting", func(datas ...any) {
			for _, currentRoom := range socket.Rooms().Keys() {
				documentID := string(currentRoom)
				if documentID == string(me) {
					continue
				}
				srv.In(currentRoom).FetchSockets()(func(users []*socketio.RemoteSocket, _ error) {
					others := make([]socketio.SocketId, 0, len(users))
					for _, user := range users {
						if user.Id() != me {
							others = append(others, user.Id())
						}
					}

					hub.leave(documentID, len(others))
					if len(others) > 0 {
						srv.In(currentRoom).Emit("document-user-change", others)
					}
				})
			}
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			log.Debug("Socket disconnected")
		})
	})

	return hub
}

// ActiveDocumentIDs lists documents with connected sockets, busiest first.
func (h *Hub) ActiveDocumentIDs() []string {
	docs := h.ActiveDocuments()
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if docs[ids[i]] == docs[ids[j]] {
			return ids[i] < ids[j]
		}
		return docs[ids[i]] > docs[ids[j]]
	})
	return ids
}

// handleBroadcast relays presence data such as cursors to the other sockets
// of a document without touching the document itself.
func handleBroadcast(socket *socketio.Socket, datas []any, volatile bool) {
	documentID, payload, ack := parseBroadcastArgs(datas)
	if documentID == "" {
		err := fmt.Errorf("missing document id")
		respondWithAck(socket, ack, "broadcast-ack", makeBroadcastAckPayload(payload, err), err)
		return
	}

	var emitErr error
	if volatile {
		emitErr = socket.Volatile().Broadcast().To(socketio.Room(documentID)).Emit("client-broadcast", payload)
	} else {
		emitErr = socket.Broadcast().To(socketio.Room(documentID)).Emit("client-broadcast", payload)
	}

	respondWithAck(socket, ack, "broadcast-ack", makeBroadcastAckPayload(payload, emitErr), emitErr)
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		value.Call(buildAckArgs(typ, err, payload))
	}
}

// buildAckArgs maps (err, payload) onto the client's callback signature. A
// single-argument callback receives the error if there is one, otherwise
// the payload.
func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		var argValue any
		switch {
		case numIn == 1 && err != nil:
			argValue = err
		case numIn == 1:
			argValue = payload
		case i == 0 && err != nil:
			argValue = err
		case i == 1:
			argValue = payload
		}
		args[i] = coerceValue(argValue, typ.In(i))
	}
	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(targetType):
		return rv
	case rv.Type().ConvertibleTo(targetType):
		return rv.Convert(targetType)
	case targetType.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}
	return reflect.Zero(targetType)
}

func respondWithAck(socket *socketio.Socket, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}

	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}

func parseBroadcastArgs(datas []any) (documentID string, payload any, ack ackInvoker) {
	ack, args := extractAck(datas)
	if len(args) < 2 {
		return "", nil, ack
	}

	documentID, _ = args[0].(string)
	return documentID, args[1], ack
}

func makeBroadcastAckPayload(original any, ackErr error) map[string]any {
	response := map[string]any{
		"status": "ok",
	}

	if ackErr != nil {
		response["status"] = "error"
		response["error"] = ackErr.Error()
	}

	if value, ok := original.(map[string]any); ok {
		if id, exists := value["messageId"].(string); exists {
			response["messageId"] = id
		}
	}
	return response
}
