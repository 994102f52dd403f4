// Command seatctl reserves seats from the terminal. It mounts a reservation
// session against a running server, follows the live seat stream and reads
// commands from stdin.
//
//	seatctl -api http://localhost:8080/api/v1 -token $TOKEN -concert $CONCERT
//	seatctl -tail -brokers localhost:9092
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"seatlock/internal/notifications"
	"seatlock/internal/reservation"
	"seatlock/internal/seats"
	"seatlock/internal/shared/middleware"

	"github.com/google/uuid"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080/api/v1", "API base URL")
	token := flag.String("token", os.Getenv("SEATLOCK_TOKEN"), "access token")
	concertID := flag.String("concert", "", "concert id")
	tail := flag.Bool("tail", false, "print the Kafka seat event stream instead of reserving")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers for -tail, comma separated")
	topic := flag.String("topic", "seat-events", "Kafka topic for -tail")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	if *tail {
		err = runTail(ctx, strings.Split(*brokers, ","), *topic)
	} else {
		err = runSession(ctx, *apiURL, *token, *concertID)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "seatctl:", err)
		os.Exit(1)
	}
}

func runTail(ctx context.Context, brokers []string, topic string) error {
	config := notifications.DefaultConsumerConfig()
	config.Brokers = brokers
	config.Topic = topic
	config.GroupID = "seatctl-" + uuid.NewString()[:8]

	consumer, err := notifications.NewSeatEventConsumer(config, func(ctx context.Context, event seats.ChangeEvent) error {
		fmt.Printf("%s %-8s concert=%s user=%s seats=%s\n",
			event.At.Format(time.RFC3339), event.Type, event.ConcertID, event.UserID, strings.Join(event.SeatIDs(), ","))
		return nil
	})
	if err != nil {
		return err
	}
	consumer.Start(ctx)
	<-ctx.Done()
	return consumer.Stop()
}

func runSession(ctx context.Context, apiURL, token, concertID string) error {
	if token == "" || concertID == "" {
		return errors.New("-token and -concert are required")
	}
	userID, err := middleware.ParseUnverified(token)
	if err != nil {
		return err
	}

	client := reservation.NewClient(apiURL, token, 10*time.Second)
	session := reservation.NewSession(client, concertID, userID, reservation.DefaultOptions())
	session.OnTransition(func(t reservation.Transition) {
		fmt.Printf("\n[%s -> %s] %s\n> ", t.From, t.To, t.Reason)
	})

	if err := session.Mount(ctx); err != nil {
		return fmt.Errorf("failed to load seat map: %w", err)
	}

	events, err := client.Subscribe(ctx, concertID, uuid.NewString())
	if err != nil {
		// polling still converges, only slower
		fmt.Fprintln(os.Stderr, "live updates unavailable:", err)
	}
	go func() { _ = session.Run(ctx, events) }()

	printSeats(os.Stdout, session.Seats(), userID)
	printHelp()
	return repl(ctx, os.Stdin, session, userID)
}

func repl(ctx context.Context, in io.Reader, session *reservation.Session, userID string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "list", "ls":
			printSeats(os.Stdout, session.Seats(), userID)
		case "select", "s":
			for _, ref := range fields[1:] {
				id := resolveSeat(session.Seats(), ref)
				if err := session.Toggle(id); err != nil {
					fmt.Printf("%s: %v\n", ref, err)
				}
			}
			printView(session.Snapshot())
		case "lock":
			if err := session.Lock(ctx); err != nil {
				fmt.Println("lock failed:", err)
			}
			printView(session.Snapshot())
		case "release":
			if err := session.Release(ctx); err != nil {
				fmt.Println("release failed:", err)
			}
			printView(session.Snapshot())
		case "pay":
			checkout, err := session.ConfirmAndPay(ctx)
			if err != nil {
				fmt.Println("checkout failed:", err)
				continue
			}
			fmt.Printf("complete payment of %.2f %s at %s\n", checkout.Amount, checkout.Currency, checkout.URL)
		case "status", "st":
			printView(session.Snapshot())
		case "sync":
			if err := session.Reconcile(ctx); err != nil {
				fmt.Println("sync failed:", err)
			}
			printView(session.Snapshot())
		case "help", "?":
			printHelp()
		case "quit", "exit", "q":
			return nil
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

// resolveSeat accepts a seat number such as B7 or a seat id
func resolveSeat(list []seats.Seat, ref string) string {
	for _, seat := range list {
		if strings.EqualFold(seat.SeatNumber, ref) {
			return seat.ID
		}
	}
	return ref
}

func printSeats(w io.Writer, list []seats.Seat, userID string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEAT\tTYPE\tPRICE\tSTATUS")
	for _, seat := range list {
		status := string(seat.Status)
		if seat.Status == seats.StatusReserved && seat.LockedBy != nil && *seat.LockedBy == userID {
			status += " (you)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", seat.SeatNumber, seat.Category, seat.Price, status)
	}
	_ = tw.Flush()
}

func printView(view reservation.View) {
	numbers := make([]string, len(view.Selected))
	for i, seat := range view.Selected {
		numbers[i] = seat.SeatNumber
	}
	fmt.Printf("state=%s seats=[%s] total=%.2f", view.State, strings.Join(numbers, " "), view.Total)
	if view.State == reservation.StateLocked || view.State == reservation.StatePaying {
		fmt.Printf(" remaining=%02d:%02d", view.Remaining/60, view.Remaining%60)
	}
	if len(view.FailedSeats) > 0 {
		fmt.Printf(" unavailable=%v", view.FailedSeats)
	}
	fmt.Println()
}

func printHelp() {
	fmt.Println(`commands:
  list                 show the seat map
  select <seat>...     toggle seats by number (A1) or id
  lock                 lock the selection for 10 minutes
  release              give the seats back
  pay                  start checkout for the locked seats
  status               show the session state
  sync                 reconcile with the server now
  quit`)
}
