package server

import (
	"math"
	"math/rand"
	"time"

	"trading-gateway/src/models"
	"trading-gateway/src/protocol"
	"trading-gateway/src/rooms"
)

// -----------------------------------------------------------------------------
// Market-data simulator: a periodic tick producer broadcasting into the
// per-symbol rooms. Runs independently of request processing.
// -----------------------------------------------------------------------------

func (s *GatewayServer) runSimulator() {
	interval := time.Duration(s.Config.Market.TickIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Logger.Info("Market data simulation started (%d symbols, every %v)", len(s.Config.Market.Symbols), interval)

	for {
		select {
		case <-s.stop:
			s.Logger.Info("Market data simulation stopped")
			return
		case <-ticker.C:
			s.simulateTicks()
		}
	}
}

// -----------------------------------------------------------------------------

func (s *GatewayServer) simulateTicks() {
	for _, sym := range s.Config.Market.Symbols {
		tick := s.nextTick(sym)

		body, err := protocol.EncodeBody(tick)
		if err != nil {
			s.Logger.Error("failed to encode tick for %s: %v", sym.Code, err)
			continue
		}
		s.Rooms.Broadcast(rooms.MarketRoom(sym.Code), "market_data", body)
	}
}

// -----------------------------------------------------------------------------

// nextTick draws one sample from the symbol's volatility profile.
func (s *GatewayServer) nextTick(sym models.MSymbolConfig) models.MTick {
	change := (rand.Float64()*2 - 1) * sym.Volatility
	price := sym.BasePrice * (1.0 + change)
	if !isFinitePositive(price) {
		price = sym.BasePrice
	}
	changePercent := ((price - sym.BasePrice) / sym.BasePrice) * 100.0

	volume := sym.BaseVolume
	if sym.VolumeVar > 0 {
		volume += rand.Intn(2*sym.VolumeVar+1) - sym.VolumeVar
	}
	if volume < 1000 {
		volume = 1000
	}

	return models.MTick{
		Symbol:    sym.Code,
		Price:     price,
		Change:    changePercent,
		Volume:    volume,
		Seq:       s.marketSeq.Add(1),
		Timestamp: time.Now().UnixMilli(),
	}
}

// -----------------------------------------------------------------------------

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
