package main

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/iamBelugaa/persistq/pkg/errors"
	"github.com/iamBelugaa/persistq/pkg/options"
	"github.com/iamBelugaa/persistq/pkg/persistq"
)

func main() {
	dir := flag.String("dir", options.DefaultDataDir, "directory holding the queue")
	name := flag.String("name", options.DefaultName, "queue name")
	segmentSize := flag.Uint64("segment-size", options.DefaultSegmentSize, "segment rollover size in bytes")
	syncOnWrite := flag.Bool("sync", false, "sync after every write")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	eng := persistq.New("persistqd")

	queue, err := openOrCreate(ctx, eng, *dir, *name, *segmentSize, *syncOnWrite)
	if err != nil {
		report("open", err)
	}

	args := flag.Args()
	switch args[0] {
	case "push":
		for _, text := range args[1:] {
			if _, err := queue.Write(ctx, []byte(text)); err != nil {
				report("push", err)
			}
		}

	case "pop":
		limit := 1
		if len(args) > 1 {
			if limit, err = strconv.Atoi(args[1]); err != nil || limit < 0 {
				log.Fatalf("pop: invalid count %q \n", args[1])
			}
		}

		n, err := drain(ctx, queue, limit, func(data []byte) error {
			fmt.Println(string(data))
			return nil
		})
		if err != nil {
			report("pop", err)
		}
		if n == 0 {
			log.Println("queue is empty")
		}

	case "stats":
		stats, err := queue.Stats()
		if err != nil {
			report("stats", err)
		}

		jsonData, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(jsonData))

	case "destroy":
		if err := queue.Destroy(); err != nil {
			report("destroy", err)
		}
		return

	default:
		usage()
		os.Exit(2)
	}

	if err := queue.Close(); err != nil {
		report("close", err)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] push <text>... | pop [n] | stats | destroy\n", os.Args[0])
	flag.PrintDefaults()
}

// openOrCreate opens the queue, creating it when it does not exist yet.
func openOrCreate(
	ctx context.Context, eng *persistq.Engine, dir, name string, segmentSize uint64, syncOnWrite bool,
) (*persistq.Queue, error) {
	queue, err := eng.Open(ctx, dir, name, segmentSize, syncOnWrite)
	if stdErrors.Is(err, errors.NotFound) {
		return eng.Create(ctx, dir, name, segmentSize, syncOnWrite)
	}
	return queue, err
}

// drain consumes up to limit records, or every record when limit is 0, and returns how many
// were handled.
func drain(ctx context.Context, queue *persistq.Queue, limit int, fn func([]byte) error) (int, error) {
	n := 0
	for limit == 0 || n < limit {
		ok, err := queue.Consume(ctx, fn)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		n++
	}
	return n, nil
}

func report(op string, err error) {
	if se, ok := errors.AsStorageError(err); ok {
		log.Printf("Code: %#v \n", se.Code())
		log.Printf("Details: %#v \n", se.Details())
		log.Printf("FileName: %#v \n", se.FileName())
		log.Printf("Path: %#v \n", se.Path())
		if seq, ok := se.Segment(); ok {
			log.Printf("Segment: %#v Offset: %#v \n", seq, se.Offset())
		}
	}
	if qe, ok := errors.AsQueueError(err); ok {
		log.Printf("Code: %#v \n", qe.Code())
		log.Printf("Queue: %#v \n", qe.Queue())
		log.Printf("Operation: %#v \n", qe.Operation())
	}
	log.Fatalf("%s operation error : %v (%s) \n", op, err, errors.KindOf(err))
}
