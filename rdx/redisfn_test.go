package rdx

import (
	"context"
	"testing"
)

func TestConnectWithoutAddress(t *testing.T) {
	conn, err := Connect(context.Background(), Options{})
	if err != nil || conn != nil {
		t.Fatalf("Connect() = %v, %v; want nil, nil", conn, err)
	}
}
