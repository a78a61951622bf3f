package marketstream

import "testing"

func TestRowToCandle(t *testing.T) {
	row := [7]string{"1700000000000", "100", "105", "95", "102", "10", "1020"}
	candle, err := rowToCandle("BTCUSDT", "1", row)
	if err != nil {
		t.Fatalf("rowToCandle: %v", err)
	}
	if candle.Open.String() != "100" || candle.Close.String() != "102" {
		t.Fatalf("unexpected candle fields: %+v", candle)
	}
	if !candle.Confirmed {
		t.Fatalf("expected a historical row to decode as confirmed")
	}
}

func TestRowToCandleRejectsBadTimestamp(t *testing.T) {
	row := [7]string{"not-a-number", "100", "105", "95", "102", "10", "1020"}
	if _, err := rowToCandle("BTCUSDT", "1", row); err == nil {
		t.Fatalf("expected an error on a non-numeric start timestamp")
	}
}
