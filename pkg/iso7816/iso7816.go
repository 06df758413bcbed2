/*
Package iso7816 implements data structures and logic to interact with smart cards according to the ISO/IEC 7816 standard.

This package provides the fundamental building blocks for APDU (Application Protocol Data Unit) communication: Command and Response structures with the seven ISO 7816-4 encoding cases, Status Word (SW) analysis, the card capabilities advertised in the historical bytes, and a Client that carries logical commands over whatever the card supports.

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

# Status Words

Every response ends with a 2-byte Status Word (SW).
  - 0x9000: Success (OK).
  - 0x61XX: Success, but response data is still available (XX bytes).
  - 0x63CX: Verification failed, X retries left.
  - 0x6CXX: Error, wrong length expectation (XX is the correct length).
  - Other: Various error conditions.

# Errors

Failures fall in three classes that callers test with errors.Is:
  - ErrTransport: the reader or the link failed.
  - ErrProtocolViolation: malformed data, or a command the card cannot carry.
  - ErrCardRejected: the card answered with a non-success status (*StatusError).

# Usage Example: Sending a command

	caps, err := iso7816.ParseCardCapabilities(historicalBytes)
	if err != nil {
	    log.Fatal(err)
	}

	client := iso7816.NewClient(card)
	client.Capabilities = caps

	cls, _ := iso7816.NewClass(0x00)
	resp, trace, err := client.Send(iso7816.SelectByAID(cls, aid))
	if err != nil {
	    log.Fatal(err)
	}
	if err := iso7816.CheckStatus("SELECT", resp); err != nil {
	    log.Fatal(err)
	}

	// One line per physical exchange, PINs masked.
	fmt.Println(trace.Describe())
*/
package iso7816
