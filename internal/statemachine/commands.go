package statemachine

import (
	"encoding/json"

	"github.com/scooterfleet/scooterpaxos/internal/paxos"
)

// Command is the paxos envelope carrying a statemachine operation: Kind
// selects the handler in Apply, Payload is that handler's JSON body.
type Command = paxos.Command

func NewCreateCommand(id string) (Command, error) {
	payload, err := json.Marshal(createPayload{ID: id})
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: KindCreate, Payload: payload}, nil
}

func NewReserveCommand(id, reservationID string) (Command, error) {
	payload, err := json.Marshal(reservePayload{ID: id, ReservationID: reservationID})
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: KindReserve, Payload: payload}, nil
}

func NewReleaseCommand(id string, distance int64) (Command, error) {
	payload, err := json.Marshal(releasePayload{ID: id, Distance: distance})
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: KindRelease, Payload: payload}, nil
}
