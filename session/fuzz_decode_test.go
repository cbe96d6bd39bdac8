package session

import "testing"

// FuzzSessionDecode feeds arbitrary bytes to the decoder. It must never panic
// and anything it accepts must re-encode to the same bytes.
func FuzzSessionDecode(f *testing.F) {
	encoded, err := Encode(testSession("seed"))
	if err != nil {
		f.Fatal(err)
	}
	f.Add(encoded)
	f.Add([]byte{})
	f.Add([]byte{1})
	f.Add([]byte{2, 0, 0})
	f.Add(encoded[:headerSize])
	f.Add(encoded[:len(encoded)-1])

	f.Fuzz(func(t *testing.T, data []byte) {
		sess, err := Decode(data)
		if err != nil {
			return
		}
		again, err := Encode(sess)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if string(again) != string(data) {
			t.Fatal("decode/encode is not stable")
		}
	})
}
