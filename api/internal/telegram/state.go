package telegram

import (
	"strconv"
	"sync"

	"sigverify/api/internal/uploader"
)

// chatState is everything the bot remembers about one chat. A chat plays
// the role of a browser tab: its session store lives in Router.Sessions.
type chatState struct {
	up *uploader.Uploader

	mu        sync.Mutex
	target    string // последняя навигация на дашборд
	fileName  string
	imageHash string
}

func (s *chatState) setTarget(t string) {
	s.mu.Lock()
	s.target = t
	s.mu.Unlock()
}

func (s *chatState) getTarget() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *chatState) setFile(name, hash string) {
	s.mu.Lock()
	s.fileName, s.imageHash = name, hash
	s.mu.Unlock()
}

func (s *chatState) file() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileName, s.imageHash
}

func sessionKey(chatID int64) string { return "chat:" + strconv.FormatInt(chatID, 10) }

// chat возвращает состояние чата, создавая его при первом обращении.
func (r *Router) chat(chatID int64) *chatState {
	if v, ok := r.chats.Load(chatID); ok {
		return v.(*chatState)
	}
	st := &chatState{}
	st.up = uploader.New(r.Backend, r.Sessions.For(sessionKey(chatID)),
		uploader.NavigatorFunc(func(target string) {
			st.setTarget(target)
			r.showDashboard(chatID, target)
		}),
		uploader.WithMaxBytes(r.MaxUploadBytes),
		uploader.WithDashboardPath(r.DashboardPath),
	)
	v, _ := r.chats.LoadOrStore(chatID, st)
	return v.(*chatState)
}
