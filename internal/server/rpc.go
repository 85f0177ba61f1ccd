package server

import (
	"fmt"

	"github.com/playg8/EuNet/internal/packet"
)

// RpcService is one link in the request dispatch chain. OnRequest returns
// handled=false to decline a request, in which case the dispatcher rewinds
// the reader and writer and offers the request to the next service.
type RpcService interface {
	OnRequest(s *Session, r *packet.Reader, w *packet.Writer) (handled bool, err error)
}

// rpcDispatcher holds the ordered chain of RPC services. Registration is
// only permitted before the server starts, so dispatch reads the slice
// without locking.
type rpcDispatcher struct {
	services []RpcService
}

// register appends a service to the chain, rejecting the same instance
// twice.
func (d *rpcDispatcher) register(svc RpcService) error {
	for _, existing := range d.services {
		if existing == svc {
			return fmt.Errorf("rpc service %T already registered: %w", svc, ErrConfigInvalid)
		}
	}
	d.services = append(d.services, svc)
	return nil
}

// dispatch offers the request to each service in registration order. The
// reader position and writer length are restored between attempts so every
// service (and, on total fall-through, the user handler) sees the request
// exactly as it arrived.
func (d *rpcDispatcher) dispatch(s *Session, r *packet.Reader, w *packet.Writer) (bool, error) {
	pos := r.Position()
	length := w.Len()

	for _, svc := range d.services {
		handled, err := svc.OnRequest(s, r, w)
		if err != nil {
			return true, err
		}
		if handled {
			return true, nil
		}
		r.SetPosition(pos)
		w.Truncate(length)
	}

	return false, nil
}
