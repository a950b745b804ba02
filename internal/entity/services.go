package entity

import (
	"github.com/waslni/shipsync/internal/localstore"
	"github.com/waslni/shipsync/internal/queue"
	"github.com/waslni/shipsync/internal/remote"
)

// Services bundles one service per entity kind, sharing the same remote
// store, local store and mutation queue.
type Services struct {
	Shipments           *Service
	Drivers             *Service
	Products            *Service
	Regions             *Service
	ProductPrices       *Service
	DeductionPrices     *Service
	Notifications       *Service
	Installments        *Service
	InstallmentPayments *Service
	Users               *Service
}

// NewServices wires every entity kind.
func NewServices(rs remote.Store, local *localstore.Store, q *queue.Queue) *Services {
	plain := func(m *Mapper) *Service {
		return NewService(Config{Mapper: m, Remote: rs, Local: local, Queue: q})
	}
	return &Services{
		Shipments:           NewShipmentService(rs, local, q),
		Drivers:             plain(DriverMapper()),
		Products:            plain(ProductMapper()),
		Regions:             plain(RegionMapper()),
		ProductPrices:       plain(ProductPriceMapper()),
		DeductionPrices:     plain(DeductionPriceMapper()),
		Notifications:       plain(NotificationMapper()),
		Installments:        plain(InstallmentMapper()),
		InstallmentPayments: plain(InstallmentPaymentMapper()),
		Users:               plain(UserMapper()),
	}
}

// All returns the services in a stable order, for handler registration.
func (s *Services) All() []*Service {
	return []*Service{
		s.Shipments,
		s.Drivers,
		s.Products,
		s.Regions,
		s.ProductPrices,
		s.DeductionPrices,
		s.Notifications,
		s.Installments,
		s.InstallmentPayments,
		s.Users,
	}
}
