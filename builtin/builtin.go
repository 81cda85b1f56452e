// Package builtin registers every built-in endpoint scheme and processor
// type. Callers that want a custom mix register drivers directly on the
// registries instead.
package builtin

import (
	"github.com/c360/routeflow/endpoint"
	inputfile "github.com/c360/routeflow/input/file"
	inputhttp "github.com/c360/routeflow/input/httpserver"
	inputkafka "github.com/c360/routeflow/input/kafka"
	inputmqtt "github.com/c360/routeflow/input/mqtt"
	inputnats "github.com/c360/routeflow/input/natsio"
	inputtimer "github.com/c360/routeflow/input/timer"
	inputudp "github.com/c360/routeflow/input/udp"
	outputfile "github.com/c360/routeflow/output/file"
	outputhttp "github.com/c360/routeflow/output/httppost"
	outputkafka "github.com/c360/routeflow/output/kafka"
	outputlog "github.com/c360/routeflow/output/logdest"
	outputmqtt "github.com/c360/routeflow/output/mqtt"
	outputnats "github.com/c360/routeflow/output/natsio"
	outputws "github.com/c360/routeflow/output/websocket"
	"github.com/c360/routeflow/processor"
	"github.com/c360/routeflow/processor/aggregate"
	"github.com/c360/routeflow/processor/debugproc"
	"github.com/c360/routeflow/processor/external"
	"github.com/c360/routeflow/processor/filter"
	"github.com/c360/routeflow/processor/transform"
)

// Endpoints returns a registry with every built-in scheme installed,
// including the not-implemented stubs for the optional schemes.
func Endpoints() (*endpoint.Registry, error) {
	r := endpoint.NewRegistry()

	sources := map[string]endpoint.SourceFactory{
		"timer": inputtimer.New,
		"file":  inputfile.New,
		"http":  inputhttp.New,
		"udp":   inputudp.New,
		"mqtt":  inputmqtt.New,
		"nats":  inputnats.New,
		"kafka": inputkafka.New,
	}
	for scheme, factory := range sources {
		if err := r.RegisterSource(scheme, factory); err != nil {
			return nil, err
		}
	}

	sinks := map[string]endpoint.SinkFactory{
		"log":   outputlog.New,
		"file":  outputfile.New,
		"http":  outputhttp.New,
		"mqtt":  outputmqtt.New,
		"nats":  outputnats.New,
		"kafka": outputkafka.New,
		"ws":    outputws.New,
	}
	for scheme, factory := range sinks {
		if err := r.RegisterSink(scheme, factory); err != nil {
			return nil, err
		}
	}

	endpoint.RegisterStubs(r)
	return r, nil
}

// Processors returns a registry with every built-in processor type.
func Processors() (*processor.Registry, error) {
	r := processor.NewRegistry()

	factories := map[string]processor.Factory{
		"filter":    filter.New,
		"transform": transform.New,
		"aggregate": aggregate.New,
		"debug":     debugproc.New,
		"external":  external.New,
	}
	for name, factory := range factories {
		if err := r.Register(name, factory); err != nil {
			return nil, err
		}
	}
	return r, nil
}
