package navfake

import (
	"sync"

	"github.com/jrsteele09/autopost-client/navigation"
)

var _ navigation.Navigator = (*Recorder)(nil)

// Recorder remembers every navigation request.
type Recorder struct {
	routes    []string
	addresses []string
	lock      sync.RWMutex
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Navigate(route string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.routes = append(r.routes, route)
}

func (r *Recorder) ReplaceState(address string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.addresses = append(r.addresses, address)
}

// Routes returns the navigated routes in order.
func (r *Recorder) Routes() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]string(nil), r.routes...)
}

// Addresses returns the replaced addresses in order.
func (r *Recorder) Addresses() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]string(nil), r.addresses...)
}

// LastRoute returns the latest navigated route or "".
func (r *Recorder) LastRoute() string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if len(r.routes) == 0 {
		return ""
	}
	return r.routes[len(r.routes)-1]
}
