package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nestmate/nestmate-server/internal/proto"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "JWT from /api/login")
	other := flag.Int64("other", 0, "conversation partner user id")
	listing := flag.Int64("listing", 0, "listing id the conversation is about")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *token == "" || *other <= 0 || *listing <= 0 {
		log.Fatal("usage: ws_smoke -token <jwt> -other <user id> -listing <listing id>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr+"?token="+*token, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	mustSend := func(v interface{}) {
		if err := wsjson.Write(ctx, conn, v); err != nil {
			log.Fatalf("send: %v", err)
		}
	}

	joinPayload, _ := json.Marshal(proto.JoinData{OtherUserID: *other, ListingID: *listing})
	mustSend(proto.Inbound{Type: proto.InboundTypeJoin, Data: joinPayload})

	sendPayload, _ := json.Marshal(proto.SendData{ReceiverID: *other, ListingID: *listing, Content: *text})
	mustSend(proto.Inbound{Type: proto.InboundTypeSend, Data: sendPayload})

	var outbound struct {
		Type  string          `json:"type"`
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
		Error *proto.Error    `json:"error,omitempty"`
	}

	if err := wsjson.Read(ctx, conn, &outbound); err != nil {
		log.Fatalf("read: %v", err)
	}

	fmt.Printf("Received outbound: type=%s", outbound.Type)
	if outbound.Event != "" {
		fmt.Printf(" event=%s", outbound.Event)
	}
	fmt.Println()
	if outbound.Error != nil {
		fmt.Printf("Error: %s (%s)\n", outbound.Error.Msg, outbound.Error.Code)
	}

	if len(outbound.Data) > 0 {
		var evt proto.EventMessage
		if err := json.Unmarshal(outbound.Data, &evt); err == nil {
			fmt.Printf("Message: id=%d from=%s to=%s listing=%q text=%q\n",
				evt.ID, evt.Sender.Name, evt.Receiver.Name, evt.Listing.Title, evt.Content)
		} else {
			fmt.Printf("Raw data: %s\n", string(outbound.Data))
		}
	}
}
