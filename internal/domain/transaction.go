package domain

// TxSummary es una transacción observada en el mempool.
// Identidad = Hash. Una vez observada sólo se reemplaza entera por una copia
// equivalente más reciente; nunca se actualiza campo a campo.
type TxSummary struct {
	Hash       string // 0x + 64 hex, minúsculas
	Sender     string // dirección checksummed, "" si el upstream mandó basura
	Nonce      uint64
	TxType     int
	SeenUnixMs int64 // primer avistamiento en el nodo fuente
	SourceID   string
	ChainID    int64
}

// Key devuelve la identidad de la fila.
func (t *TxSummary) Key() string {
	if t == nil {
		return ""
	}
	return t.Hash
}

// SeenAt devuelve el timestamp usado para la ventana de edad.
func (t *TxSummary) SeenAt() int64 {
	if t == nil {
		return 0
	}
	return t.SeenUnixMs
}

// Equal compara los campos significativos. Dos filas iguales permiten que el
// store conserve la referencia anterior.
func (t *TxSummary) Equal(o *TxSummary) bool {
	if t == nil || o == nil {
		return t == o
	}
	return *t == *o
}

// FeatureDetail son las anotaciones de riesgo/features de una transacción.
// Uno a uno con TxSummary por Hash; puede llegar tarde o no llegar nunca.
type FeatureDetail struct {
	Hash                 string
	Protocol             string
	Category             string
	ChainID              int64
	MEVScore             float64
	UrgencyScore         float64
	MethodSelector       string // 0x + 8 hex, "" si no aplica
	FeatureEngineVersion string
}

// Key devuelve la identidad de la fila.
func (f *FeatureDetail) Key() string {
	if f == nil {
		return ""
	}
	return f.Hash
}

// SeenAt siempre es 0: las features no traen timestamp propio, así que su
// store se configura sin ventana de edad y se poda por capacidad.
func (f *FeatureDetail) SeenAt() int64 { return 0 }

// Equal compara los campos significativos.
func (f *FeatureDetail) Equal(o *FeatureDetail) bool {
	if f == nil || o == nil {
		return f == o
	}
	return *f == *o
}

// ShortHash abrevia un hash para tablas y logs: 0x1234…abcd.
func ShortHash(hash string) string {
	if len(hash) <= 14 {
		return hash
	}
	return hash[:6] + "…" + hash[len(hash)-4:]
}
