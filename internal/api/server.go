// Package api serves feed prices and service status over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"redemption-feed/internal/blockfinder"
	"redemption-feed/internal/observability"
	"redemption-feed/internal/pricefeed"
	"redemption-feed/internal/scheduler"
	"redemption-feed/internal/storage"
)

// Feeds looks up feeds by name.
type Feeds interface {
	Feed(name string) (pricefeed.PriceFeed, bool)
	Names() []string
}

// StatusFunc reports scheduler status.
type StatusFunc func() scheduler.Status

// Server holds the HTTP handlers.
type Server struct {
	feeds  Feeds
	store  storage.FeedStateStore
	status StatusFunc
	log    logrus.FieldLogger
	start  time.Time
}

// NewServer creates a server. store and status may be nil.
func NewServer(feeds Feeds, store storage.FeedStateStore, status StatusFunc, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		feeds:  feeds,
		store:  store,
		status: status,
		log:    log.WithField("component", "api"),
		start:  time.Now(),
	}
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/feeds", s.handleListFeeds).Methods(http.MethodGet)
	r.HandleFunc("/feeds/{name}/price", s.handleGetPrice).Methods(http.MethodGet)
	r.HandleFunc("/feeds/{name}/stored", s.handleGetStored).Methods(http.MethodGet)
	return r
}

// PriceResponse is the JSON body of a price query.
type PriceResponse struct {
	Feed       string `json:"feed"`
	Price      string `json:"price"`
	Value      string `json:"value"` // Price scaled down by Decimals
	Decimals   int    `json:"decimals"`
	Time       *int64 `json:"time,omitempty"`
	Historical bool   `json:"historical"`
}

// FeedSummary describes a feed in the /feeds listing.
type FeedSummary struct {
	Name       string  `json:"name"`
	Price      *string `json:"price"`
	Value      *string `json:"value"`
	Decimals   int     `json:"decimals"`
	LastUpdate *int64  `json:"last_update"`
	Lookback   string  `json:"lookback"`
}

// StatusResponse is the JSON body of /status.
type StatusResponse struct {
	Status    string            `json:"status"`
	Uptime    string            `json:"uptime"`
	Scheduler *scheduler.Status `json:"scheduler,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status: "running",
		Uptime: time.Since(s.start).Truncate(time.Second).String(),
	}
	if s.status != nil {
		st := s.status()
		resp.Scheduler = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListFeeds(w http.ResponseWriter, _ *http.Request) {
	names := s.feeds.Names()
	out := make([]FeedSummary, 0, len(names))
	for _, name := range names {
		feed, _ := s.feeds.Feed(name)
		summary := FeedSummary{
			Name:       name,
			Decimals:   feed.PriceFeedDecimals(),
			LastUpdate: feed.LastUpdateTime(),
			Lookback:   formatLookback(feed.Lookback()),
		}
		if p := feed.CurrentPrice(); p != nil {
			price := p.String()
			value := FormatPrice(p, summary.Decimals)
			summary.Price = &price
			summary.Value = &value
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetPrice returns the current price, or the historical price when a
// time query parameter (Unix seconds) is given.
func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	feed, ok := s.feeds.Feed(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown feed "+strconv.Quote(name))
		return
	}

	resp := PriceResponse{Feed: name, Decimals: feed.PriceFeedDecimals()}

	var price *big.Int
	if raw := r.URL.Query().Get("time"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "time must be a Unix timestamp in seconds")
			return
		}
		price, err = feed.HistoricalPrice(r.Context(), ts)
		if err != nil {
			s.log.WithError(err).WithField("feed", name).Warn("historical price failed")
			writeError(w, statusFor(err), err.Error())
			return
		}
		resp.Time = &ts
		resp.Historical = true
	} else {
		price = feed.CurrentPrice()
		if price == nil {
			writeError(w, http.StatusServiceUnavailable, "feed has not been updated yet")
			return
		}
		resp.Time = feed.LastUpdateTime()
	}

	resp.Price = price.String()
	resp.Value = FormatPrice(price, resp.Decimals)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetStored(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "no feed state store configured")
		return
	}
	name := mux.Vars(r)["name"]
	state, err := s.store.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no stored state for "+strconv.Quote(name))
			return
		}
		s.log.WithError(err).WithField("feed", name).Error("load stored state failed")
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	updated := state.UpdatedAt
	writeJSON(w, http.StatusOK, PriceResponse{
		Feed:     state.Feed,
		Price:    state.Price.String(),
		Value:    FormatPrice(state.Price, state.Decimals),
		Decimals: state.Decimals,
		Time:     &updated,
	})
}

// FormatPrice renders a fixed-point price as a decimal string.
func FormatPrice(price *big.Int, decimals int) string {
	return decimal.NewFromBigInt(price, -int32(decimals)).String()
}

func formatLookback(d time.Duration) string {
	if d == pricefeed.UnboundedLookback {
		return "unbounded"
	}
	return d.String()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, blockfinder.ErrBeforeHistory), errors.Is(err, blockfinder.ErrInFuture):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pricefeed.ErrChainRead), errors.Is(err, pricefeed.ErrBlockResolution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
