package core

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/encodeous/trustbgp/perf"
	"github.com/encodeous/trustbgp/state"
	"github.com/goccy/go-yaml"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouteInfo struct {
	Network string         `yaml:"network"`
	NextHop state.RouterId `yaml:"next_hop"`
	AsPath  []uint16       `yaml:"as_path"`
}

type TrustInfo struct {
	Neighbour state.RouterId `yaml:"neighbor"`
	Direct    float64        `yaml:"direct"`
	Voted     float64        `yaml:"voted"`
	Blend     float64        `yaml:"blend"`
	Accept    bool           `yaml:"accept"`
	Down      bool           `yaml:"down"`
}

// Status is the document served on /status
type Status struct {
	Id       state.RouterId `yaml:"id"`
	AS       uint16         `yaml:"as"`
	Routes   []RouteInfo    `yaml:"routes"`
	Sessions []SessionInfo  `yaml:"sessions"`
	Trust    []TrustInfo    `yaml:"trust"`
}

func (r *BgpRouter) Status() Status {
	st := Status{
		Id:       r.Id,
		AS:       r.AS,
		Routes:   make([]RouteInfo, 0),
		Sessions: r.Sessions.Info(),
		Trust:    make([]TrustInfo, 0),
	}
	for _, route := range r.Table.Routes() {
		st.Routes = append(st.Routes, RouteInfo{
			Network: route.Network.String(),
			NextHop: route.NextHop,
			AsPath:  route.AsPath,
		})
	}
	snap := r.Trust.Snapshot()
	for _, n := range r.Env.Self.Neighbors {
		score := snap[n]
		st.Trust = append(st.Trust, TrustInfo{
			Neighbour: n,
			Direct:    score.Direct,
			Voted:     score.Voted,
			Blend:     score.Blend,
			Accept:    score.Accept,
			Down:      r.Sessions.IsDown(n),
		})
	}
	return st
}

func (r *BgpRouter) debugHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		out, err := yaml.Marshal(r.Status())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(out)
	})
	mux.HandleFunc("/routes", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(r.Table.String()))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/", perf.Mux)
	return mux
}

func (r *BgpRouter) serveDebug() error {
	ln, err := net.Listen("tcp", r.DebugAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           r.debugHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-r.Env.Context.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	r.log.Info("debug server listening", "addr", ln.Addr().String())
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return r.Env.Context.Err()
	}
	return err
}
