package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/Intuity/Gator/common/logging"
	"github.com/Intuity/Gator/common/models"
	"github.com/Intuity/Gator/common/protocol"
	"github.com/Intuity/Gator/common/specs"
	"github.com/Intuity/Gator/runner/scheduler"
	"github.com/Intuity/Gator/runner/tier"
	"github.com/Intuity/Gator/runner/wrapper"
)

/**
The gator runner process. Invoked in one of two ways:
 - as the root of a tree, with a spec file argument: parses the spec from
   disk and becomes a tier (for !JobGroup / !JobArray) or a wrapper (!Job)
 - as a child of a tier, with -parent/-ident (or the GATOR_PARENT and
   GATOR_IDENT environment variables): fetches its spec from the parent
   over the websocket and proceeds in the same way

Exit codes: 0 overall success, 1 any failure in the tree, 2 parent not
reachable, 3 specification error.
*/
func main() {
	os.Exit(run())
}

func run() int {
	identPtr := flag.String("ident", "", "instance identifier")
	parentPtr := flag.String("parent", "", "host:port of the parent node's websocket")
	trackingPtr := flag.String("tracking", "", "tracking directory for databases")
	hubPtr := flag.String("hub", "", "base URL of a hub service to register with")
	verbosePtr := flag.Bool("verbose", false, "render DEBUG messages on the root console")
	quietPtr := flag.Bool("quiet", false, "suppress console rendering")
	flag.Parse()

	ident := *identPtr
	if ident == "" {
		ident = os.Getenv(specs.ENV_IDENT)
	}
	parent := *parentPtr
	if parent == "" {
		parent = os.Getenv(specs.ENV_PARENT)
	}

	logger := logging.NewLogger()

	var spec specs.Spec
	var client *protocol.Client

	if parent != "" && ident != "" {
		// Nested invocation: the parent tier holds our spec
		client = protocol.NewClient(parent, protocol.NewRouter())
		connectErr := client.ConnectWithRetry(500*time.Millisecond, 5*time.Second, 12)
		if connectErr != nil {
			log.Printf("ERROR: %s", connectErr)
			return models.EXIT_NO_PARENT
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var response protocol.SpecResponse
		fetchErr := client.Conn().Request(ctx, "spec", protocol.SpecRequest{Ident: ident}, &response)
		cancel()
		if fetchErr != nil {
			log.Printf("ERROR: Could not fetch spec from parent: %s", fetchErr)
			return models.EXIT_NO_PARENT
		}

		var parseErr error
		spec, parseErr = specs.ParseString(response.Spec)
		if parseErr != nil {
			log.Printf("ERROR: %s", parseErr)
			return models.EXIT_SPEC_ERROR
		}
	} else {
		// Root invocation: the spec comes from disk
		specPath := flag.Arg(0)
		if specPath == "" {
			log.Print("ERROR: No specification file provided and no parent server to query")
			return models.EXIT_SPEC_ERROR
		}
		var parseErr error
		spec, parseErr = specs.ParseFile(specPath)
		if parseErr != nil {
			log.Printf("ERROR: %s", parseErr)
			return models.EXIT_SPEC_ERROR
		}
		if !*quietPtr {
			verbosity := logging.SEVERITY_INFO
			if *verbosePtr {
				verbosity = logging.SEVERITY_DEBUG
			}
			logger.SetConsole(os.Stdout, verbosity)
		}
	}

	checkErr := spec.Check()
	if checkErr != nil {
		logger.Critical("Specification rejected: %s", checkErr)
		log.Printf("ERROR: %s", checkErr)
		return models.EXIT_SPEC_ERROR
	}

	if ident == "" {
		ident = spec.Name()
	}
	if ident == "" {
		ident = strconv.Itoa(os.Getpid())
	}

	tracking := *trackingPtr
	if tracking == "" {
		cwd, _ := os.Getwd()
		tracking = filepath.Join(cwd, "tracking", ident)
	}

	// CTRL+C and SIGTERM begin a graceful stop of the whole tree
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch s := spec.(type) {
	case *specs.Job:
		leaf := wrapper.New(wrapper.Options{
			Ident:    ident,
			Spec:     s,
			Client:   client,
			HubUrl:   *hubPtr,
			Tracking: tracking,
			Logger:   logger,
		})
		_, code := leaf.Run(ctx)
		return code

	case *specs.JobGroup, *specs.JobArray:
		sched, schedErr := scheduler.NewLocalScheduler()
		if schedErr != nil {
			log.Printf("ERROR: %s", schedErr)
			return models.EXIT_FAILURE
		}
		layer := tier.New(tier.Options{
			Ident:     ident,
			Spec:      spec,
			Client:    client,
			HubUrl:    *hubPtr,
			Tracking:  tracking,
			Logger:    logger,
			Scheduler: sched,
		})
		_, code := layer.Run(ctx)
		return code

	default:
		log.Printf("ERROR: Unsupported specification object %T", s)
		return models.EXIT_SPEC_ERROR
	}
}
