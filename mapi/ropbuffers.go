package mapi

// UnmarshalRops is a wrapper function to keep track of unmarshaling logic and location in our buffer
// takes the expected responses in order and unmarshals into each one. Returning the first error that occurs,
// or nil if no error
func UnmarshalRops(resp []byte, rops ...RopResponse) (bufPtr int, err error) {
	p := 0

	for i := range rops {
		p, err = rops[i].Unmarshal(resp[bufPtr:])
		if err != nil {
			return bufPtr, err
		}
		bufPtr += p
	}

	return
}

// buildRops concatenates the requests into a RopsList
func buildRops(rops ...RopRequest) []byte {
	fullReq := []byte{}
	for _, r := range rops {
		fullReq = append(fullReq, r.Marshal()...)
	}
	return fullReq
}
