// Package application contém os casos de uso do controle de admissão e do limite
// de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http nem Redis:
//
//   - PolicyRegistry: resolve path -> política (limite, janela, bucket)
//   - IdentifierResolver: deriva a identidade do chamador (user:/anon:)
//   - Service: orquestra identidade + política + WindowStore e devolve uma Decision,
//     caindo para o store local quando o distribuído falha
//   - ConcurrencyService: acquire/timeout de vagas em voo
package application
