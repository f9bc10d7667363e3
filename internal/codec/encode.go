package codec

import "encoding/json"

type clientFrame struct {
	Op string `json:"op"`
	D  any    `json:"d,omitempty"`
}

// CreditBody es el mensaje cliente→servidor de control de flujo.
type CreditBody struct {
	Amount int `json:"amount"`
}

// EncodeCredit serializa un CREDIT para el canal persistente.
func EncodeCredit(amount int) []byte {
	if amount < 0 {
		amount = 0
	}
	b, _ := json.Marshal(clientFrame{Op: OpCredit, D: CreditBody{Amount: amount}})
	return b
}

// EncodeHeartbeat serializa un HEARTBEAT para el canal persistente.
func EncodeHeartbeat() []byte {
	b, _ := json.Marshal(clientFrame{Op: OpHeartbeat})
	return b
}
