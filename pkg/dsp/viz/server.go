package viz

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
)

type ImageContainer struct {
	name string
	data []byte
}

type Producer interface {
	Name() string
	GetImage() *ImageContainer
	AddPlotOption(opt PlotOptions)
}

// Server renders registered plot producers as PNGs over HTTP. Producers
// are grouped into buckets (one per signal path) and only rendered while
// someone is actually viewing the bucket.
type Server struct {
	images          map[string]map[string]*ImageContainer
	mu              sync.RWMutex
	port            int
	srv             *http.Server
	producerBuckets map[string]map[string]Producer
	updateInterval  time.Duration
	enabled         bool
	lastViewed      map[string]time.Time
	liveness        func() error
}

func NewServer(port int, updateInterval time.Duration) *Server {
	return &Server{
		images:          make(map[string]map[string]*ImageContainer),
		producerBuckets: make(map[string]map[string]Producer),
		port:            port,
		lastViewed:      make(map[string]time.Time),
		srv:             &http.Server{Addr: fmt.Sprintf(":%d", port)},
		updateInterval:  updateInterval,
		enabled:         true,
	}
}

func (s *Server) Enable(enable bool) {
	s.mu.Lock()
	s.enabled = enable
	s.mu.Unlock()
}

// SetLivenessProbe wires the control loop watchdog into /healthz. The
// probe returns nil while the loop is alive.
func (s *Server) SetLivenessProbe(probe func() error) {
	s.mu.Lock()
	s.liveness = probe
	s.mu.Unlock()
}

func (s *Server) Register(key string, p Producer) {
	s.mu.Lock()
	bucket, ok := s.producerBuckets[key]
	if !ok {
		bucket = make(map[string]Producer)
		s.producerBuckets[key] = bucket
	}
	bucket[p.Name()] = p
	s.mu.Unlock()
}

func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

func (s *Server) render() {
	s.mu.Lock()
	buckets := s.producerBuckets
	s.mu.Unlock()

	for bucketName, bucket := range buckets {
		s.mu.Lock()
		lastViewed := s.lastViewed[bucketName]
		s.mu.Unlock()
		if time.Since(lastViewed) > time.Second {
			continue
		}

		for _, producer := range bucket {
			img := producer.GetImage()
			if img == nil {
				continue
			}
			s.mu.Lock()
			mb, ok := s.images[bucketName]
			if !ok {
				mb = make(map[string]*ImageContainer)
				s.images[bucketName] = mb
			}
			mb[img.name] = img
			s.mu.Unlock()
		}
	}
}

func (s *Server) Run(ctx context.Context) error {

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.updateInterval):
				if !s.enabled {
					continue
				}
				s.render()
			}
		}
	}()

	handler := httprouter.New()

	handler.GET("/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var key string
		s.mu.RLock()
		for name := range s.producerBuckets {
			key = name
			break
		}
		s.mu.RUnlock()

		w.Header().Set("Location", fmt.Sprintf("/view/%s", key))
		w.WriteHeader(http.StatusFound)
	})

	handler.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.mu.RLock()
		probe := s.liveness
		s.mu.RUnlock()

		if probe == nil {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok: no probe registered\n"))
			return
		}
		if err := probe(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "stalled: %v\n", err)
			return
		}
		w.Write([]byte("ok\n"))
	})

	handler.GET("/view/:bucket", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		bucket := params.ByName("bucket")

		s.mu.Lock()
		itemsForBucket, ok := s.producerBuckets[bucket]
		if ok {
			s.lastViewed[bucket] = time.Now()
		}
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		// Give the render loop one interval to produce fresh images.
		time.Sleep(s.updateInterval)

		s.mu.RLock()
		defer s.mu.RUnlock()

		w.Header().Add("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Masker Viz</title></head>`))
		w.Write([]byte(fmt.Sprintf(`
		<script type="text/javascript">
			window.onload = function() {
				var imgs = document.getElementsByTagName('img');
				for (var i = 0; i < imgs.length; i++) {
					setInterval(function(image) {
						image.src = image.src.split("?")[0] + "?" + new Date().getTime();
					}, %d, imgs[i]);
				}
			}
		</script>`, s.updateInterval.Milliseconds())))
		w.Write([]byte(`<body style='background-color: black'>`))

		names := make([]string, 0, len(itemsForBucket))
		for name := range itemsForBucket {
			names = append(names, name)
		}
		sort.Strings(names)

		w.Write([]byte(`<div style="display: flex; flex-direction: row; flex-wrap: wrap">`))
		for _, name := range names {
			w.Write([]byte(fmt.Sprintf(`<img src="/image/%s/%s?0" width="640"/>`, bucket, name)))
		}
		w.Write([]byte(`</div></body></html>`))
	})

	handler.GET("/image/:bucket/:name", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		s.mu.Lock()
		s.lastViewed[params.ByName("bucket")] = time.Now()
		bucket, ok := s.images[params.ByName("bucket")]
		var img *ImageContainer
		if ok {
			img, ok = bucket[params.ByName("name")]
		}
		s.mu.Unlock()

		if !ok || img == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Add("Content-Type", "image/png")
		w.Write(img.data)
	})

	s.srv.Handler = handler

	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
