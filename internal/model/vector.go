package model

import (
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// EmbeddingDim is the fixed width of every stored chunk embedding.
const EmbeddingDim = 384

// Vector stores an embedding as a pgvector column on postgres and as its
// text form ("[0.1,0.2,...]") on every other dialect.
type Vector struct {
	pgvector.Vector
}

func NewVector(values []float32) Vector {
	return Vector{Vector: pgvector.NewVector(values)}
}

func (Vector) GormDataType() string {
	return "vector"
}

func (Vector) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return fmt.Sprintf("vector(%d)", EmbeddingDim)
	}
	return "text"
}
