// Package retention bounds chat history growth. Rooms accumulate
// messages indefinitely; the sweep trims any room past the threshold
// down to the newest keep-count. The join-time history window is far
// below the keep count, so clients never observe the trim.
package retention

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"codehive/internal/db"
)

type Config struct {
	Interval  time.Duration
	Threshold int
	Keep      int
}

func DefaultConfig() Config {
	return Config{
		Interval:  10 * time.Minute,
		Threshold: 5000,
		Keep:      2000,
	}
}

type Service struct {
	store  *db.Store
	config Config
	stop   chan struct{}
	wg     sync.WaitGroup
	log    *logrus.Entry
}

func New(store *db.Store, config Config) *Service {
	return &Service{
		store:  store,
		config: config,
		stop:   make(chan struct{}),
		log:    logrus.WithField("component", "retention"),
	}
}

func (s *Service) Start() {
	if s.config.Interval <= 0 {
		s.log.Info("retention disabled")
		return
	}
	s.wg.Add(1)
	go s.run()
	s.log.WithFields(logrus.Fields{
		"interval":  s.config.Interval,
		"threshold": s.config.Threshold,
		"keep":      s.config.Keep,
	}).Info("retention service started")
}

func (s *Service) Stop() {
	if s.config.Interval <= 0 {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.log.Info("retention service stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.SweepAll()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SweepAll()
		}
	}
}

// SweepAll trims every room over the threshold. Failures on one room
// never stop the sweep.
func (s *Service) SweepAll() {
	const page = 500
	trimmed := 0

	for offset := 0; ; offset += page {
		codes, err := s.store.ListMessageRooms(page, offset)
		if err != nil {
			s.log.WithError(err).Error("list rooms")
			return
		}
		if len(codes) == 0 {
			break
		}

		for _, code := range codes {
			ok, err := s.sweepRoom(code)
			if err != nil {
				s.log.WithError(err).WithField("room", code).Error("trim failed")
				continue
			}
			if ok {
				trimmed++
			}
		}

		if len(codes) < page {
			break
		}
	}

	if trimmed > 0 {
		s.log.WithField("rooms", trimmed).Info("trimmed chat history")
	}
}

func (s *Service) sweepRoom(roomCode string) (bool, error) {
	count, err := s.store.MessageCount(roomCode)
	if err != nil {
		return false, err
	}
	if count < s.config.Threshold {
		return false, nil
	}
	if err := s.store.TrimMessages(roomCode, s.config.Keep); err != nil {
		return false, err
	}
	return true, nil
}
