package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/assetnote/kiteupload/pkg/log"
	"github.com/dustin/go-humanize"
	"github.com/fasthttp/router"
	"github.com/francoispqt/gojay"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

const (
	maxBodySize = 1 << 30
)

var (
	requestCount count64
	byteCount    count64
)

type count64 struct {
	val uint64
}

func (c *count64) add(n uint64) {
	atomic.AddUint64(&c.val, n)
}

func (c *count64) get() uint64 {
	return atomic.LoadUint64(&c.val)
}

// Receipt is returned for every stored upload
type Receipt struct {
	ID            string
	Method        string
	Path          string
	ContentLength int
	Size          int
	SHA256        string
}

func (r *Receipt) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("id", r.ID)
	enc.StringKey("method", r.Method)
	enc.StringKey("path", r.Path)
	enc.IntKey("content_length", r.ContentLength)
	enc.IntKey("size", r.Size)
	enc.StringKey("sha256", r.SHA256)
}

func (r *Receipt) IsNil() bool {
	return r == nil
}

func PreRequest(ctx *fasthttp.RequestCtx) {
	requestCount.add(1)
	byteCount.add(uint64(len(ctx.PostBody())))
}

func Index(ctx *fasthttp.RequestCtx) {
	PreRequest(ctx)

	ctx.WriteString("Welcome!")
}

// Store acknowledges the upload with a json receipt
func Store(ctx *fasthttp.RequestCtx) {
	PreRequest(ctx)

	body := ctx.PostBody()
	sum := sha256.Sum256(body)
	r := &Receipt{
		ID:            uuid.New().String(),
		Method:        string(ctx.Method()),
		Path:          string(ctx.Path()),
		ContentLength: ctx.Request.Header.ContentLength(),
		Size:          len(body),
		SHA256:        hex.EncodeToString(sum[:]),
	}
	log.Debug().
		Str("id", r.ID).
		Str("method", r.Method).
		Str("path", r.Path).
		Str("size", humanize.IBytes(uint64(r.Size))).
		Msg("stored upload")

	b, err := gojay.MarshalJSONObject(r)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.Response.Header.Set("X-Upload-Id", r.ID)
	ctx.SetStatusCode(fasthttp.StatusCreated)
	ctx.Write(b)
}

// Slow waits before storing the upload, for exercising client timeouts
func Slow(ctx *fasthttp.RequestCtx) {
	ms, err := strconv.Atoi(ctx.UserValue("ms").(string))
	if err != nil {
		ctx.Error("invalid delay", fasthttp.StatusBadRequest)
		return
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
	Store(ctx)
}

// Reject refuses the upload and closes the connection
func Reject(ctx *fasthttp.RequestCtx) {
	PreRequest(ctx)

	ctx.SetConnectionClose()
	ctx.Error("upload rejected", fasthttp.StatusRequestEntityTooLarge)
}

func StatsFunc(end <-chan bool) {
	// rolling average
	lastCheck := time.Now()
	lastBytes := byteCount.get()
	peak := float64(0)
	for {
		select {
		case <-end:
			fmt.Println("\nTerminating.")
			return
		default:
			timeDiff := time.Since(lastCheck).Seconds()
			curBytes := byteCount.get()
			rate := float64(curBytes-lastBytes) / timeDiff
			if rate > peak {
				peak = rate
			}

			fmt.Printf("Uploads: %d. Received: %s. Rate: %s/s. Peak: %s/s\t\t\t\t\r",
				requestCount.get(), humanize.IBytes(curBytes), humanize.IBytes(uint64(rate)), humanize.IBytes(uint64(peak)))
			lastCheck = time.Now()
			lastBytes = curBytes
			time.Sleep(1 * time.Second)
		}
	}
}

func main() {
	var portRange string
	flag.StringVar(&portRange, "p", "14000-14010", "Range of ports to start servers on")
	flag.Parse()

	flagParts := strings.Split(portRange, "-")
	if len(flagParts) != 2 {
		log.Fatal().Msg("Invalid portRange. Format should be <int>-<int>")
	}

	startPort, err := strconv.Atoi(flagParts[0])
	if err != nil {
		log.Fatal().Msgf("Unable to parse port: %s", err)
	}

	endPort, err := strconv.Atoi(flagParts[1])
	if err != nil {
		log.Fatal().Msgf("Unable to parse port: %s", err)
	}

	r := router.New()
	r.GET("/", Index)
	r.PUT("/slow/{ms}", Slow)
	r.POST("/slow/{ms}", Slow)
	r.PUT("/reject/{req:*}", Reject)
	r.POST("/reject/{req:*}", Reject)
	r.PUT("/{req:*}", Store)
	r.POST("/{req:*}", Store)

	var wg sync.WaitGroup
	for i := startPort; i < endPort; i++ {
		wg.Add(1)
		go func(port int) {
			s := &fasthttp.Server{
				Handler:            r.Handler,
				MaxRequestBodySize: maxBodySize,
			}
			log.Fatal().Err(s.ListenAndServe(fmt.Sprintf(":%d", port))).Msg("failed to start server")
			wg.Done()
		}(i)
	}
	statsFunc := make(chan bool)

	go StatsFunc(statsFunc)
	wg.Wait()

	statsFunc <- true
	close(statsFunc)
}
