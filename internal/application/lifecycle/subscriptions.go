package lifecycle

import (
	"sync"

	"github.com/jhoicas/facturador-dte/internal/domain/entity"
)

// statusHub distribuye los cambios de estado a los suscriptores de un
// documento. El motor notifica siempre DESPUÉS de que la transición quedó
// persistida: un suscriptor jamás observa un estado que un reinicio pueda
// deshacer. El envío es best-effort con buffer; si el suscriptor no drena,
// el evento se descarta (puede reconciliar con Status).
type statusHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan entity.DocumentStatus
}

func newStatusHub() *statusHub {
	return &statusHub{subs: make(map[string]map[int]chan entity.DocumentStatus)}
}

// subscribe registra un canal de cambios para documentID. El cancel devuelto
// es idempotente; el canal se cierra al cancelar o al llegar a estado terminal.
func (h *statusHub) subscribe(documentID string) (<-chan entity.DocumentStatus, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan entity.DocumentStatus, 8)

	if h.subs[documentID] == nil {
		h.subs[documentID] = make(map[int]chan entity.DocumentStatus)
	}
	h.subs[documentID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if m := h.subs[documentID]; m != nil {
			if c, ok := m[id]; ok {
				delete(m, id)
				close(c)
			}
			if len(m) == 0 {
				delete(h.subs, documentID)
			}
		}
	}
	return ch, cancel
}

// notify publica un cambio de estado ya persistido. Si el estado es terminal
// cierra los canales del documento: el flujo de una emisión es finito.
func (h *statusHub) notify(documentID string, st entity.DocumentStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[documentID] {
		select {
		case ch <- st:
		default: // suscriptor lento: se descarta el evento
		}
	}
	if st.Terminal() {
		for id, ch := range h.subs[documentID] {
			delete(h.subs[documentID], id)
			close(ch)
		}
		delete(h.subs, documentID)
	}
}
